package codec

import (
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/funcscan/flowdesk/pkg/graph"
)

// runtimeKeys are back-references and handles that editors attach to node data.
var runtimeKeys = map[string]bool{
	"parent":        true,
	"parentNode":    true,
	"ownerDocument": true,
	"element":       true,
	"html":          true,
}

// SanitizeForTransport turns a graph, a snapshot, or raw snapshot JSON into a
// plain snapshot safe to serialize. It never fails: unexpected input yields an
// empty snapshot.
func SanitizeForTransport(v any) (snap graph.Snapshot) {
	defer func() {
		if recover() != nil {
			snap = graph.EmptySnapshot()
		}
	}()

	switch value := v.(type) {
	case nil:
		return graph.EmptySnapshot()
	case *graph.Graph:
		if value == nil {
			return graph.EmptySnapshot()
		}

		return prune(value.ExportSnapshot())
	case graph.Snapshot:
		return prune(value)
	case *graph.Snapshot:
		if value == nil {
			return graph.EmptySnapshot()
		}

		return prune(*value)
	case json.RawMessage:
		return fromJSON(value)
	case []byte:
		return fromJSON(value)
	case string:
		return fromJSON([]byte(value))
	default:
		raw, err := json.Marshal(strip(v))
		if err != nil {
			return graph.EmptySnapshot()
		}

		return fromJSON(raw)
	}
}

func fromJSON(raw []byte) graph.Snapshot {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return graph.EmptySnapshot()
	}

	cleaned, err := json.Marshal(strip(generic))
	if err != nil {
		return graph.EmptySnapshot()
	}

	var snap graph.Snapshot
	if err := json.Unmarshal(cleaned, &snap); err != nil {
		return graph.EmptySnapshot()
	}

	return prune(snap)
}

// strip drops runtime keys and values that cannot be encoded.
func strip(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))

		for k, item := range value {
			if runtimeKeys[k] || !encodable(item) {
				continue
			}

			out[k] = strip(item)
		}

		return out
	case []any:
		out := make([]any, 0, len(value))

		for _, item := range value {
			if encodable(item) {
				out = append(out, strip(item))
			}
		}

		return out
	default:
		return v
	}
}

func encodable(v any) bool {
	if v == nil {
		return true
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	default:
		return true
	}
}

// prune returns a deep copy with only nodes of known kinds and edges between kept nodes.
func prune(in graph.Snapshot) graph.Snapshot {
	out := graph.EmptySnapshot()

	for key, sn := range in.Nodes {
		if !sn.Kind.Valid() {
			continue
		}

		id, err := strconv.Atoi(key)
		if err != nil || id <= 0 {
			continue
		}

		sn.ID = id
		sn.Ports = graph.Ports{
			Inputs:  append([]string{}, sn.Ports.Inputs...),
			Outputs: append([]string{}, sn.Ports.Outputs...),
		}

		if sn.Data.DomainID != nil {
			d := *sn.Data.DomainID
			sn.Data.DomainID = &d
		}

		if sn.Data.ParentID != nil {
			p := *sn.Data.ParentID
			sn.Data.ParentID = &p
		}

		if sn.Data.Settings != nil {
			s := *sn.Data.Settings
			sn.Data.Settings = &s
		}

		out.Nodes[key] = sn
	}

	for _, e := range in.Edges {
		if _, ok := out.Nodes[strconv.Itoa(e.From)]; !ok {
			continue
		}

		if _, ok := out.Nodes[strconv.Itoa(e.To)]; !ok {
			continue
		}

		out.Edges = append(out.Edges, e)
	}

	return out
}
