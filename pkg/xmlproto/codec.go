package xmlproto

import (
	"strings"

	"github.com/dreamware/infdserver/pkg/acl"
	"github.com/dreamware/infdserver/pkg/ot"
	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/request"
	"github.com/dreamware/infdserver/pkg/textchunk"
	"github.com/dreamware/infdserver/pkg/vector"
)

// segmentsFromChunk flattens c's authored runs into wire Segments in
// order.
func segmentsFromChunk(c *textchunk.Chunk) []Segment {
	var segs []Segment
	c.Iter(func(author uint32, _, _ int, text string) bool {
		segs = append(segs, Segment{Author: author, Text: text})
		return true
	})
	return segs
}

// chunkFromSegments rebuilds a textchunk.Chunk from wire Segments,
// preserving authorship per run.
func chunkFromSegments(segs []Segment) (*textchunk.Chunk, error) {
	c := textchunk.New()
	pos := 0
	for _, s := range segs {
		if err := c.Insert(pos, s.Text, s.Author); err != nil {
			return nil, Error.Wrap(err)
		}
		pos += len([]rune(s.Text))
	}
	return c, nil
}

// MaskToList renders m as the comma-separated permission-name list
// §6.2 specifies for a sheet's mask/perms attributes.
func MaskToList(m acl.Mask) string {
	var names []string
	for p := acl.Permission(0); p.String() != "unknown"; p++ {
		if m.Has(p) {
			names = append(names, p.String())
		}
	}
	return strings.Join(names, ",")
}

// ParseMaskList parses the comma-separated permission-name list back
// into a Mask; ordering is irrelevant per §6.2.
func ParseMaskList(s string) (acl.Mask, error) {
	var m acl.Mask
	s = strings.TrimSpace(s)
	if s == "" {
		return m, nil
	}
	for _, name := range strings.Split(s, ",") {
		p, err := acl.ParsePermission(strings.TrimSpace(name))
		if err != nil {
			return acl.Mask{}, err
		}
		m.Set(p)
	}
	return m, nil
}

// SheetFromACL renders sh as its wire form.
func SheetFromACL(sh *acl.Sheet) Sheet {
	return Sheet{
		Account: string(sh.Account),
		Mask:    MaskToList(sh.Mask),
		Perms:   MaskToList(sh.Perms),
	}
}

// SheetToACL parses a wire Sheet into an acl.Sheet.
func SheetToACL(s Sheet) (*acl.Sheet, error) {
	mask, err := ParseMaskList(s.Mask)
	if err != nil {
		return nil, Error.New("sheet %q: invalid mask: %v", s.Account, err)
	}
	perms, err := ParseMaskList(s.Perms)
	if err != nil {
		return nil, Error.New("sheet %q: invalid perms: %v", s.Account, err)
	}
	return &acl.Sheet{Account: acl.AccountID(s.Account), Mask: mask, Perms: perms}, nil
}

// SheetSetFromACL renders every sheet of s as its wire form, in s's
// own deterministic (account-sorted) order.
func SheetSetFromACL(s *acl.SheetSet) []Sheet {
	sheets := s.Sheets()
	out := make([]Sheet, len(sheets))
	for i, sh := range sheets {
		out[i] = SheetFromACL(sh)
	}
	return out
}

// SheetSetToACL parses a wire sheet list into a SheetSet.
func SheetSetToACL(wire []Sheet) (*acl.SheetSet, error) {
	out := acl.NewSheetSet()
	for _, w := range wire {
		parsed, err := SheetToACL(w)
		if err != nil {
			return nil, err
		}
		sh := out.AddSheet(parsed.Account)
		sh.Mask = parsed.Mask
		sh.Perms = parsed.Perms
	}
	return out, nil
}

// RequestFromOperation renders an admitted request's operation as its
// wire envelope, ready for Encode.
func RequestFromOperation(user uint32, v *vector.Vector, kind request.Kind, op otop.Operation) (*Request, error) {
	msg := &Request{User: user, Vector: v.String()}
	switch kind {
	case request.KindUndo:
		msg.Undo = &Undo{}
		return msg, nil
	case request.KindRedo:
		msg.Redo = &Redo{}
		return msg, nil
	}

	switch o := op.(type) {
	case *otop.Insert:
		wireOp := &Insert{Position: uint64(o.Pos)}
		if o.Payload != nil {
			wireOp.Segments = segmentsFromChunk(o.Payload)
		}
		msg.Insert = wireOp
	case *otop.Delete:
		wireOp := &Delete{Position: uint64(o.Pos), Length: uint64(o.Length)}
		if o.Payload != nil {
			wireOp.Segments = segmentsFromChunk(o.Payload)
		}
		msg.Delete = wireOp
	case *otop.NoOp:
		msg.NoOp = &NoOp{}
	case *otop.MoveCaret:
		// move-caret is not a distinct wire element (§6.2 lists only
		// insert/delete/undo/redo/no-op); it is sent as a plain no-op,
		// and the caret position is not carried on the wire.
		msg.NoOp = &NoOp{}
	default:
		return nil, Error.New("operation type %T has no wire representation", op)
	}
	return msg, nil
}

// ToIncomingRequest parses a wire Request into ot.IncomingRequest. A
// client's <undo/> or <redo/> carries no target of its own: the
// caller is expected to recognise Kind == KindUndo/KindRedo and call
// ot.Algorithm.GenerateUndo/GenerateRedo instead of executing the
// returned value directly, since only the server's own per-user stack
// can be trusted to name the correct target.
func ToIncomingRequest(msg *Request) (ot.IncomingRequest, error) {
	v, err := vector.Parse(msg.Vector)
	if err != nil {
		return ot.IncomingRequest{}, Error.New("invalid vector %q: %v", msg.Vector, err)
	}

	req := ot.IncomingRequest{User: msg.User, Vector: v}

	switch {
	case msg.Insert != nil:
		req.Kind = request.KindDo
		payload, err := chunkFromSegments(msg.Insert.Segments)
		if err != nil {
			return ot.IncomingRequest{}, err
		}
		req.Operation = &otop.Insert{Pos: int(msg.Insert.Position), Length: runeLen(msg.Insert.Segments), Payload: payload}
	case msg.Delete != nil:
		req.Kind = request.KindDo
		op := &otop.Delete{Pos: int(msg.Delete.Position), Length: int(msg.Delete.Length)}
		if len(msg.Delete.Segments) > 0 {
			payload, err := chunkFromSegments(msg.Delete.Segments)
			if err != nil {
				return ot.IncomingRequest{}, err
			}
			op.Payload = payload
		}
		req.Operation = op
	case msg.Undo != nil:
		req.Kind = request.KindUndo
	case msg.Redo != nil:
		req.Kind = request.KindRedo
	case msg.NoOp != nil:
		req.Kind = request.KindDo
		req.Operation = &otop.NoOp{}
	default:
		return ot.IncomingRequest{}, Error.New("request carries no recognised operation")
	}
	return req, nil
}

func runeLen(segs []Segment) int {
	n := 0
	for _, s := range segs {
		n += len([]rune(s.Text))
	}
	return n
}
