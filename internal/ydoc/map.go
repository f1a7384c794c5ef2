package ydoc

// Map is a shared string-keyed container. Keys keep insertion order.
type Map struct {
	doc    *Doc
	keys   []string
	values map[string]any
}

// NewMap returns a detached Map; it joins a Doc when stored in one.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

func (m *Map) integrate(doc *Doc) {
	m.doc = doc
	for _, value := range m.values {
		integrate(value, doc)
	}
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	value, ok := m.values[key]
	return value, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Set stores value under key, replacing any previous value in place.
func (m *Map) Set(key string, value any) {
	prev, existed := m.values[key]
	if !existed {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	integrate(value, m.doc)

	m.doc.record(func() {
		if existed {
			m.values[key] = prev
			return
		}
		delete(m.values, key)
		m.removeKey(key)
	})
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
	prev, existed := m.values[key]
	if !existed {
		return
	}
	index := m.removeKey(key)
	delete(m.values, key)

	m.doc.record(func() {
		m.values[key] = prev
		m.keys = append(m.keys, "")
		copy(m.keys[index+1:], m.keys[index:])
		m.keys[index] = key
	})
}

func (m *Map) removeKey(key string) int {
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return i
		}
	}
	return -1
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}

// ToJSON converts the map and its descendants to plain values.
func (m *Map) ToJSON() map[string]any {
	out := make(map[string]any, len(m.values))
	for key, value := range m.values {
		out[key] = toJSON(value)
	}
	return out
}
