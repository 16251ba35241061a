package entity

// BackendResult is the loosely typed dictionary returned by a vision
// collaborator. JSON numbers decode as float64.
type BackendResult map[string]interface{}

// Lookup returns the raw value for key and whether the key was present.
// A present key may still hold nil.
func (r BackendResult) Lookup(key string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[key]
	return v, ok
}

// Get returns the value for key, or nil when absent.
func (r BackendResult) Get(key string) interface{} {
	v, _ := r.Lookup(key)
	return v
}

// GetOr returns fallback only when key is absent. An explicit nil is kept.
func (r BackendResult) GetOr(key string, fallback interface{}) interface{} {
	if v, ok := r.Lookup(key); ok {
		return v
	}
	return fallback
}
