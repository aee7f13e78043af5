package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/funcscan/flowdesk/pkg/graph"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func encodeSnapshot(snap graph.Snapshot, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, err
		}

		return append(data, '\n'), nil
	case formatYAML, "yml":
		return yaml.Marshal(snap)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
}

func decodeSnapshot(data []byte, format string) (graph.Snapshot, error) {
	var snap graph.Snapshot

	switch format {
	case formatJSON:
		if err := json.Unmarshal(data, &snap); err != nil {
			return snap, fmt.Errorf("invalid JSON snapshot: %w", err)
		}
	case formatYAML, "yml":
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return snap, fmt.Errorf("invalid YAML snapshot: %w", err)
		}
	default:
		return snap, fmt.Errorf("unsupported snapshot format %q", format)
	}

	return snap, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// detach drops the persisted row ids so saving the snapshot creates new rows.
func detach(snap graph.Snapshot) graph.Snapshot {
	for key, node := range snap.Nodes {
		node.Data.DomainID = nil
		snap.Nodes[key] = node
	}

	return snap
}
