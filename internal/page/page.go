// Package page holds the HTML document a storefront client keeps in sync.
// It stands in for the browser DOM: elements are addressed by id, text and
// visibility are patched in place, and rows are detached on removal.
package page

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const emptyPage = "<!DOCTYPE html><html><head></head><body></body></html>"

// Document is a parsed HTML page. All methods are safe for concurrent use.
type Document struct {
	mu   sync.Mutex
	root *html.Node

	Path string
	Hash string // "sha256:<hex>" of the bytes most recently loaded
}

// Load reads an HTML file from disk and parses it.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading page file: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	d.Path = path
	return d, nil
}

// Parse builds a Document from raw HTML.
func Parse(data []byte) (*Document, error) {
	d := &Document{}
	if err := d.Replace(data); err != nil {
		return nil, err
	}
	return d, nil
}

// Empty returns a document with an empty body. Every lookup on it misses.
func Empty() *Document {
	d, err := Parse([]byte(emptyPage))
	if err != nil {
		panic(err)
	}
	return d
}

// Replace swaps the whole document for freshly fetched HTML, the way a
// browser reload discards the previous DOM.
func (d *Document) Replace(data []byte) error {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing page HTML: %w", err)
	}
	sum := sha256.Sum256(data)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.root = root
	d.Hash = fmt.Sprintf("sha256:%x", sum)
	return nil
}

// Render serializes the current document.
func (d *Document) Render() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return buf.Bytes(), nil
}

// Exists reports whether an element with the given id is present.
func (d *Document) Exists(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return findByID(d.root, id) != nil
}

// Text returns the text content of the element with the given id.
func (d *Document) Text(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", false
	}
	return textContent(n), true
}

// SetText replaces the children of the element with a single text node.
// It returns false, leaving the document untouched, when id is absent.
func (d *Document) SetText(id, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	setText(n, text)
	return true
}

// SetDescendantText sets the text of the first descendant of id carrying
// class, e.g. the ".toast-body" of a toast.
func (d *Document) SetDescendantText(id, class, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	var target *html.Node
	walk(n, func(c *html.Node) bool {
		if c != n && c.Type == html.ElementNode && hasClass(c, class) {
			target = c
			return false
		}
		return true
	})
	if target == nil {
		return false
	}
	setText(target, text)
	return true
}

// Attr returns an attribute of the element with the given id.
func (d *Document) Attr(id, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", false
	}
	return getAttr(n, key)
}

// SetAttr sets an attribute on the element with the given id.
func (d *Document) SetAttr(id, key, val string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	setAttr(n, key, val)
	return true
}

// HasClass reports whether the element with the given id carries class.
func (d *Document) HasClass(id, class string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	return n != nil && hasClass(n, class)
}

// SetClass adds or removes class on the element with the given id.
func (d *Document) SetClass(id, class string, on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	toggleClass(n, class, on)
	return true
}

// SetVisible shows or hides the element through its inline display style.
// Showing also drops a Bootstrap d-none class.
func (d *Document) SetVisible(id string, visible bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	setVisible(n, visible)
	return true
}

// Visible reports whether the element is present and not hidden by an
// inline display:none or a d-none class.
func (d *Document) Visible(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	if hasClass(n, "d-none") {
		return false
	}
	style, _ := getAttr(n, "style")
	return styleProp(style, "display") != "none"
}

// Remove detaches the element with the given id from the document.
func (d *Document) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil || n.Parent == nil {
		return false
	}
	n.Parent.RemoveChild(n)
	return true
}

// SetDescendantTagClass adds or removes class on the first <tag> element
// inside the element with the given id, e.g. the <i> icon of a button.
func (d *Document) SetDescendantTagClass(id, tag, class string, on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	var target *html.Node
	walk(n, func(c *html.Node) bool {
		if c != n && c.Type == html.ElementNode && c.Data == tag {
			target = c
			return false
		}
		return true
	})
	if target == nil {
		return false
	}
	toggleClass(target, class, on)
	return true
}

// AppendElement appends a new <tag> element with the given attributes and
// text as the last child of the element with the given id.
func (d *Document) AppendElement(id, tag, text string, attrs ...html.Attribute) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	child := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     append([]html.Attribute(nil), attrs...),
	}
	if text != "" {
		child.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	n.AppendChild(child)
	return true
}

// InputValue returns the value of the first <input> named name, typically
// the hidden csrfmiddlewaretoken field.
func (d *Document) InputValue(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		val   string
		found bool
	)
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "input" {
			if v, ok := getAttr(n, "name"); ok && v == name {
				val, _ = getAttr(n, "value")
				found = true
				return false
			}
		}
		return true
	})
	return val, found
}

// SetVisibleWhere walks every element carrying attr and shows it when show
// returns true for the attribute value, hiding it otherwise. It returns the
// number of elements visited.
func (d *Document) SetVisibleWhere(attr string, show func(val string) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	walk(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if v, ok := getAttr(n, attr); ok {
			setVisible(n, show(v))
			count++
		}
		return true
	})
	return count
}

// findByID returns the first element whose id attribute equals id.
func findByID(root *html.Node, id string) *html.Node {
	if root == nil || id == "" {
		return nil
	}
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if v, ok := getAttr(n, "id"); ok && v == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, class string) bool {
	v, _ := getAttr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func toggleClass(n *html.Node, class string, on bool) {
	v, _ := getAttr(n, "class")
	fields := strings.Fields(v)
	out := fields[:0]
	for _, c := range fields {
		if c != class {
			out = append(out, c)
		}
	}
	if on {
		out = append(out, class)
	}
	setAttr(n, "class", strings.Join(out, " "))
}

func setVisible(n *html.Node, visible bool) {
	display := "none"
	if visible {
		display = "block"
		if hasClass(n, "d-none") {
			toggleClass(n, "d-none", false)
		}
	}
	style, _ := getAttr(n, "style")
	setAttr(n, "style", withStyleProp(style, "display", display))
}

// styleProp returns the value of prop in an inline style declaration list.
func styleProp(style, prop string) string {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), prop) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// withStyleProp sets prop in an inline style declaration list, keeping the
// other declarations in order.
func withStyleProp(style, prop, value string) string {
	var decls []string
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		k, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(k), prop) {
			continue
		}
		decls = append(decls, decl)
	}
	decls = append(decls, prop+": "+value)
	return strings.Join(decls, "; ")
}
