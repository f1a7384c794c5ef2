package ydoc

// Array is a shared ordered container.
type Array struct {
	doc   *Doc
	items []any
}

// NewArray returns a detached Array holding items.
func NewArray(items ...any) *Array {
	a := &Array{}
	a.items = append(a.items, items...)
	return a
}

func (a *Array) integrate(doc *Doc) {
	a.doc = doc
	for _, item := range a.items {
		integrate(item, doc)
	}
}

// Len returns the number of items.
func (a *Array) Len() int {
	return len(a.items)
}

// Get returns the item at index.
func (a *Array) Get(index int) (any, bool) {
	if index < 0 || index >= len(a.items) {
		return nil, false
	}
	return a.items[index], true
}

// Push appends values.
func (a *Array) Push(values ...any) {
	a.Insert(len(a.items), values...)
}

// Insert places values before index. Out of range indexes are clamped.
func (a *Array) Insert(index int, values ...any) {
	if len(values) == 0 {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(a.items) {
		index = len(a.items)
	}
	for _, value := range values {
		integrate(value, a.doc)
	}

	items := make([]any, 0, len(a.items)+len(values))
	items = append(items, a.items[:index]...)
	items = append(items, values...)
	items = append(items, a.items[index:]...)
	a.items = items

	count := len(values)
	a.doc.record(func() {
		a.items = append(a.items[:index], a.items[index+count:]...)
	})
}

// Delete removes count items starting at index.
func (a *Array) Delete(index, count int) {
	if index < 0 || count <= 0 || index >= len(a.items) {
		return
	}
	if index+count > len(a.items) {
		count = len(a.items) - index
	}
	removed := make([]any, count)
	copy(removed, a.items[index:index+count])
	a.items = append(a.items[:index], a.items[index+count:]...)

	a.doc.record(func() {
		items := make([]any, 0, len(a.items)+len(removed))
		items = append(items, a.items[:index]...)
		items = append(items, removed...)
		items = append(items, a.items[index:]...)
		a.items = items
	})
}

// Items returns a copy of the item slice.
func (a *Array) Items() []any {
	items := make([]any, len(a.items))
	copy(items, a.items)
	return items
}

// ToJSON converts the array and its descendants to plain values.
func (a *Array) ToJSON() []any {
	out := make([]any, len(a.items))
	for i, item := range a.items {
		out[i] = toJSON(item)
	}
	return out
}
