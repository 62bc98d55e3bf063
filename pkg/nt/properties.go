package nt

// Well-known property keys.
const (
	PropPersistent = "persistent"
	PropRetained   = "retained"
	PropCached     = "cached"
)

// Properties is a topic's property map. Values are JSON-compatible
// (bool, float64, string, nested maps/slices). Properties maps are
// treated as immutable once attached to a topic; mutation goes through
// Merge which returns a new map.
type Properties map[string]any

// GetBool returns the named property as a bool, or def when absent or
// not a bool.
func (p Properties) GetBool(key string, def bool) bool {
	if v, ok := p[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Persistent reports whether the topic is flagged persistent.
func (p Properties) Persistent() bool { return p.GetBool(PropPersistent, false) }

// Retained reports whether the topic is flagged retained: its value
// survives the unannounce of its last publisher.
func (p Properties) Retained() bool { return p.GetBool(PropRetained, false) }

// Cached reports whether subscribers should cache the latest value.
// Defaults to true.
func (p Properties) Cached() bool { return p.GetBool(PropCached, true) }

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge applies a patch and returns the result, leaving the receiver
// untouched. A nil patch value deletes the key (v4 setproperties
// semantics).
func (p Properties) Merge(patch Properties) Properties {
	out := p.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// V3Flags packs the persistent flag into the v3 entry flags byte. v3
// has no retained/cached concept; only bit 0 (persistent) is defined.
func (p Properties) V3Flags() uint8 {
	var flags uint8
	if p.Persistent() {
		flags |= 0x01
	}
	return flags
}

// PropertiesFromV3Flags expands a v3 entry flags byte into a property map.
func PropertiesFromV3Flags(flags uint8) Properties {
	props := Properties{}
	if flags&0x01 != 0 {
		props[PropPersistent] = true
	}
	return props
}
