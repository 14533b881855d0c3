package geometry

type fakeElement struct {
	parent  *fakeElement
	classes map[string]bool
	attrs   map[string]string
	box     PixelRect
}

func (e *fakeElement) Parent() Element {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *fakeElement) HasClass(name string) bool { return e.classes[name] }

func (e *fakeElement) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *fakeElement) BoundingClientRect() PixelRect { return e.box }

func newPage(number string, box PixelRect) *fakeElement {
	return &fakeElement{
		classes: map[string]bool{PageClass: true},
		attrs:   map[string]string{PageNumberAttr: number},
		box:     box,
	}
}

func newChild(parent *fakeElement) *fakeElement {
	return &fakeElement{parent: parent}
}

type fakeSelection struct {
	rects    []PixelRect
	text     string
	ancestor Element
}

func (s *fakeSelection) ClientRects() []PixelRect { return s.rects }
func (s *fakeSelection) Text() string             { return s.text }
func (s *fakeSelection) CommonAncestor() Element  { return s.ancestor }
