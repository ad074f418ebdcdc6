package wormhole

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"slices"
)

// Fprint writes a summary of the index followed by one line per leaf.
func (c *core) Fprint(w io.Writer) error {
	defer c.exit(c.enter(false))
	st := c.Stats()
	if _, err := fmt.Fprintf(w, "wormhole %s safe=%t leaves=%d keys=%d capacity=%d splits=%d merges=%d epoch=%d pending=%d\n",
		c.id, c.safe, st.Leaves, st.Keys, c.opts.LeafCapacity, st.Splits, st.Merges, st.Epoch, st.Pending); err != nil {
		return err
	}
	i := 0
	for l := c.head; l != nil; l = l.next.Load() {
		s := l.snap.Load()
		if _, err := fmt.Fprintf(w, "leaf %d id=%d anchor=%q size=%d version=%d\n", i, l.id, l.anchor, len(s.kvs), s.version); err != nil {
			return err
		}
		i++
	}
	return nil
}

// anchorFilter compiles pattern; the empty pattern matches everything.
func anchorFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("anchor pattern: %w", err)
	}
	return re, nil
}

func matches(re *regexp.Regexp, b []byte) bool {
	return re == nil || re.Match(b)
}

// PrintLeafAnchors writes the anchor of every leaf matching pattern, in
// chain order.
func (c *core) PrintLeafAnchors(w io.Writer, pattern string) error {
	re, err := anchorFilter(pattern)
	if err != nil {
		return err
	}
	defer c.exit(c.enter(false))
	for l := c.head; l != nil; l = l.next.Load() {
		if !matches(re, l.anchor) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%q\n", l.anchor); err != nil {
			return err
		}
	}
	return nil
}

// sortedNodes returns the nodes of the current table in key order.
func (c *core) sortedNodes() []*metaNode {
	var nodes []*metaNode
	c.meta.Load().each(func(n *metaNode) bool {
		nodes = append(nodes, n)
		return true
	})
	slices.SortFunc(nodes, func(a, b *metaNode) int { return bytes.Compare(a.key, b.key) })
	return nodes
}

// PrintMetaAnchors writes every trie prefix that is itself an anchor,
// together with the leaf it is bound to.
func (c *core) PrintMetaAnchors(w io.Writer, pattern string) error {
	re, err := anchorFilter(pattern)
	if err != nil {
		return err
	}
	defer c.exit(c.enter(false))
	for _, n := range c.sortedNodes() {
		l := n.leaf.Load()
		if l == nil || !matches(re, n.key) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%q -> leaf %d\n", n.key, l.id); err != nil {
			return err
		}
	}
	return nil
}

// PrintMetaLRMost writes the leftmost and rightmost leaf anchors bracketed
// by every trie prefix matching pattern.
func (c *core) PrintMetaLRMost(w io.Writer, pattern string) error {
	re, err := anchorFilter(pattern)
	if err != nil {
		return err
	}
	defer c.exit(c.enter(false))
	for _, n := range c.sortedNodes() {
		if !matches(re, n.key) {
			continue
		}
		lm, rm := n.lmost.Load(), n.rmost.Load()
		if lm == nil || rm == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%q lmost=%q rmost=%q\n", n.key, lm.anchor, rm.anchor); err != nil {
			return err
		}
	}
	return nil
}

// Anchors returns copies of the leaf anchors in chain order.
func (c *core) Anchors() [][]byte {
	defer c.exit(c.enter(false))
	var out [][]byte
	for l := c.head; l != nil; l = l.next.Load() {
		out = append(out, bytes.Clone(l.anchor))
	}
	return out
}

// JumpLeafOnly returns the anchor of the leaf the trie routes key to,
// without walking the sibling chain to confirm it. Diagnostic only.
func (c *core) JumpLeafOnly(key []byte) []byte {
	defer c.exit(c.enter(false))
	return bytes.Clone(c.jump(key).anchor)
}
