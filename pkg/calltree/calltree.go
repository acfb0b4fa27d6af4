// Package calltree implements the call tree and gas meter the Session &
// Call Engine maintains across nested contract-to-contract invocations: one
// node per call frame, a cursor tracking the active call path, and two pure
// diagnostic renderings of the tree.
package calltree

import (
	"fmt"
	"strings"

	"github.com/georgecane/contractvm/pkg/types"
)

// Frame is one call-tree node: a single nested invocation.
type Frame struct {
	ContractId    types.ContractId
	GasLimit      uint64
	GasSpent      uint64
	Result        error
	Parent        *Frame
	Children      []*Frame
	EventsMark    int // events-log watermark recorded when the frame was pushed
	SnapshotDepth int // memory snapshot stack depth recorded when the frame was pushed
}

// Tree tracks the call tree rooted at a session's top-level call and a
// cursor following the active call path.
type Tree struct {
	root   *Frame
	cursor *Frame
}

// New returns an empty call tree with no active frame.
func New() *Tree {
	return &Tree{}
}

// Push starts a new call frame as a child of the current cursor (or as the
// root, if the tree is empty), moving the cursor to it.
func (t *Tree) Push(contractId types.ContractId, gasLimit uint64, eventsMark, snapshotDepth int) *Frame {
	f := &Frame{
		ContractId:    contractId,
		GasLimit:      gasLimit,
		EventsMark:    eventsMark,
		SnapshotDepth: snapshotDepth,
		Parent:        t.cursor,
	}
	if t.cursor == nil {
		t.root = f
	} else {
		t.cursor.Children = append(t.cursor.Children, f)
	}
	t.cursor = f
	return f
}

// Pop finishes the current frame, recording its result and moving the
// cursor back to its parent. Callers are responsible for recording
// finished.GasSpent (from the frame's Meter, whose Reserve/Refund
// bookkeeping already folds in every descendant's spend) before popping;
// Pop itself only manages cursor position.
func (t *Tree) Pop(result error) {
	if t.cursor == nil {
		return
	}
	t.cursor.Result = result
	t.cursor = t.cursor.Parent
}

// Current returns the active frame, or nil if no call is in progress.
func (t *Tree) Current() *Frame { return t.cursor }

// Caller returns the parent of the current frame, or nil at the root.
func (t *Tree) Caller() *Frame {
	if t.cursor == nil {
		return nil
	}
	return t.cursor.Parent
}

// Callstack returns the ancestors of the current frame, innermost first,
// not including the current frame itself.
func (t *Tree) Callstack() []*Frame {
	var out []*Frame
	for f := t.Caller(); f != nil; f = f.Parent {
		out = append(out, f)
	}
	return out
}

// Depth returns the current call depth: 0 at no active call, 1 at the
// top-level call, and so on.
func (t *Tree) Depth() int {
	d := 0
	for f := t.cursor; f != nil; f = f.Parent {
		d++
	}
	return d
}

// Root returns the root frame, or nil if the tree is empty.
func (t *Tree) Root() *Frame { return t.root }

// Compact renders the tree in the bracketed form: `0xAAAA[0xBBBB[0xDDDD],
// 0xCCCC[*0xEEEE]]`, with `*` marking the cursor.
func (t *Tree) Compact() string {
	if t.root == nil {
		return ""
	}
	var b strings.Builder
	t.writeCompact(&b, t.root)
	return b.String()
}

func (t *Tree) writeCompact(b *strings.Builder, f *Frame) {
	if f == t.cursor {
		b.WriteByte('*')
	}
	b.WriteString(shortHex(f.ContractId))
	if len(f.Children) > 0 {
		b.WriteByte('[')
		for i, c := range f.Children {
			if i > 0 {
				b.WriteString(", ")
			}
			t.writeCompact(b, c)
		}
		b.WriteByte(']')
	}
}

// Indented renders the tree as one node per line using `├──`, `└──`, and
// `│` continuation prefixes, with `*` marking the cursor.
func (t *Tree) Indented() string {
	if t.root == nil {
		return ""
	}
	var b strings.Builder
	marker := ""
	if t.root == t.cursor {
		marker = "*"
	}
	b.WriteString(marker)
	b.WriteString(shortHex(t.root.ContractId))
	b.WriteByte('\n')
	t.writeIndented(&b, t.root, "")
	return strings.TrimRight(b.String(), "\n")
}

func (t *Tree) writeIndented(b *strings.Builder, f *Frame, prefix string) {
	for i, c := range f.Children {
		last := i == len(f.Children)-1
		connector := "├── "
		nextPrefix := prefix + "│   "
		if last {
			connector = "└── "
			nextPrefix = prefix + "    "
		}
		marker := ""
		if c == t.cursor {
			marker = "*"
		}
		fmt.Fprintf(b, "%s%s%s%s\n", prefix, connector, marker, shortHex(c.ContractId))
		t.writeIndented(b, c, nextPrefix)
	}
}

func shortHex(id types.ContractId) string {
	return "0x" + id.String()[:8]
}
