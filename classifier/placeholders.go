package classifier

import (
	"fmt"
	"sort"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

// ParsePlaceholders parses sql for use as an extended-query Parse target:
// it rejects multiple top-level statements (SQLSTATE 42601, per the
// protocol's one-statement-per-Parse contract) and returns the sorted,
// deduplicated list of $N parameter ordinals the statement references.
func ParsePlaceholders(sql string) (*pg_query.ParseResult, []int32, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, nil, pgerror.WithCode(fmt.Errorf("syntax error: %w", err), codes.Syntax)
	}
	if len(tree.Stmts) > 1 {
		return nil, nil, pgerror.WithCode(
			fmt.Errorf("cannot insert multiple commands into a prepared statement"),
			codes.Syntax,
		)
	}
	return tree, Placeholders(tree), nil
}

// Placeholders walks tree for every ParamRef node and returns the sorted,
// deduplicated list of ordinals referenced ($1, $2, ...).
func Placeholders(tree *pg_query.ParseResult) []int32 {
	if tree == nil {
		return nil
	}
	seen := make(map[int32]struct{})
	collectParamRefs(tree, seen)

	out := make([]int32, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// collectParamRefs walks msg's protobuf fields recursively, recording the
// Number of every ParamRef submessage it finds. This is a generic
// traversal over the parse tree rather than a per-statement-type switch:
// the grammar's node family is large and ParamRef can appear nested
// arbitrarily deep (subqueries, VALUES lists, SET targets), so walking
// the wire-level message structure is both simpler and exhaustive.
func collectParamRefs(msg proto.Message, seen map[int32]struct{}) {
	if msg == nil {
		return
	}
	reflectMsg := msg.ProtoReflect()
	if !reflectMsg.IsValid() {
		return
	}

	reflectMsg.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				visitParamRefValue(fd, list.Get(i), seen)
			}
			return true
		}
		visitParamRefValue(fd, v, seen)
		return true
	})
}

func visitParamRefValue(fd protoreflect.FieldDescriptor, v protoreflect.Value, seen map[int32]struct{}) {
	if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
		return
	}
	sub := v.Message()
	if !sub.IsValid() {
		return
	}
	subMsg, ok := sub.Interface().(proto.Message)
	if !ok {
		return
	}
	if ref, ok := subMsg.(*pg_query.ParamRef); ok {
		seen[ref.Number] = struct{}{}
		return
	}
	collectParamRefs(subMsg, seen)
}
