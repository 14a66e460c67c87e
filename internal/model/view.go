package model

import "encoding/json"

// Track position constants. A track with no position is placed on top.
const (
	PositionTop     = "top"
	PositionLeft    = "left"
	PositionRight   = "right"
	PositionBottom  = "bottom"
	PositionCenter  = "center"
	PositionWhole   = "whole"
	PositionGallery = "gallery"
)

// TilesetRef is an opaque reference to a unit of servable data. Tracks
// reference tilesets, they never own them. TrackType and TrackPosition are
// optional presentation hints used when building a view directly from a set
// of tilesets.
type TilesetRef struct {
	UID           string `json:"uid"`
	Filename      string `json:"filename,omitempty"`
	Datatype      string `json:"datatype,omitempty"`
	TrackType     string `json:"track_type,omitempty"`
	TrackPosition string `json:"track_position,omitempty"`
}

// Track is one node of a view's visual tree. A leaf track may reference a
// tileset; a composite track groups an ordered list of child tracks and has
// no tileset or server of its own. Conf is the free-form track configuration
// that ends up in the rendered view configuration; once a display is
// composed, every tileset-bearing leaf has a "server" entry.
type Track struct {
	Type     string
	Position string
	Conf     map[string]any
	Tileset  *TilesetRef
	Tracks   []*Track
}

// Composite reports whether the track groups child tracks. A composite track
// with zero children is still composite; it simply contributes nothing.
func (t *Track) Composite() bool {
	return t.Tracks != nil
}

// Clone returns a structurally independent deep copy of the track. Mutating
// the clone, including nested conf values and child tracks, never affects
// the original.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := &Track{
		Type:     t.Type,
		Position: t.Position,
		Conf:     cloneConf(t.Conf),
	}
	if t.Tileset != nil {
		ts := *t.Tileset
		c.Tileset = &ts
	}
	if t.Tracks != nil {
		c.Tracks = make([]*Track, len(t.Tracks))
		for i, child := range t.Tracks {
			c.Tracks[i] = child.Clone()
		}
	}
	return c
}

// WithServer returns a deep copy of the track in which every tileset-bearing
// leaf that does not already name a server is bound to addr. Leaves that
// carry an explicit non-empty server keep it, so a view can mix tracks served
// by an external backend with tracks served by a freshly started one.
func (t *Track) WithServer(addr string) *Track {
	c := t.Clone()
	c.fillServer(addr)
	return c
}

func (t *Track) fillServer(addr string) {
	if t.Composite() {
		for _, child := range t.Tracks {
			child.fillServer(addr)
		}
		return
	}
	if t.Tileset == nil || hasServer(t.Conf) {
		return
	}
	if t.Conf == nil {
		t.Conf = make(map[string]any, 1)
	}
	t.Conf["server"] = addr
}

// hasServer reports whether conf carries an explicit, non-empty server
// address. A nil or empty-string entry counts as unset.
func hasServer(conf map[string]any) bool {
	v, ok := conf["server"]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// MarshalJSON renders the track in view-configuration form: the conf map with
// the track type merged in, children of a composite track under "contents",
// and the tileset uid of a leaf under "tilesetUid".
func (t *Track) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Conf)+3)
	for k, v := range t.Conf {
		m[k] = v
	}
	if t.Type != "" {
		m["type"] = t.Type
	}
	if t.Composite() {
		contents := t.Tracks
		if contents == nil {
			contents = []*Track{}
		}
		m["contents"] = contents
	} else if t.Tileset != nil {
		m["tilesetUid"] = t.Tileset.UID
	}
	return json.Marshal(m)
}

// View is one visual panel: an ordered list of tracks plus view-level layout
// metadata. Views handed to the composition engine are never mutated; all
// rewriting happens on clones.
type View struct {
	UID    string
	Tracks []*Track
	Layout map[string]any
}

// Clone returns a structurally independent deep copy of the view.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}
	c := &View{
		UID:    v.UID,
		Layout: cloneConf(v.Layout),
	}
	if v.Tracks != nil {
		c.Tracks = make([]*Track, len(v.Tracks))
		for i, t := range v.Tracks {
			c.Tracks[i] = t.Clone()
		}
	}
	return c
}

// WithServer returns a deep copy of the view with every unbound
// tileset-bearing leaf track pointed at addr.
func (v *View) WithServer(addr string) *View {
	c := v.Clone()
	for _, t := range c.Tracks {
		t.fillServer(addr)
	}
	return c
}

// MarshalJSON renders the view with its tracks grouped by position, the
// shape the display surface expects.
func (v *View) MarshalJSON() ([]byte, error) {
	byPosition := make(map[string][]*Track)
	for _, t := range v.Tracks {
		pos := t.Position
		if pos == "" {
			pos = PositionTop
		}
		byPosition[pos] = append(byPosition[pos], t)
	}

	m := make(map[string]any, len(v.Layout)+2)
	for k, val := range v.Layout {
		m[k] = val
	}
	m["uid"] = v.UID
	m["tracks"] = byPosition
	return json.Marshal(m)
}

// ViewConfig is the merged configuration document handed to the display
// surface: the composed views plus the axis synchronization groups.
type ViewConfig struct {
	Views           []*View    `json:"views"`
	LocationSyncs   [][]string `json:"locationSyncs"`
	ValueScaleSyncs [][]string `json:"valueScaleSyncs"`
	ZoomSyncs       [][]string `json:"zoomSyncs"`
}

// NewViewConfig builds a view configuration document. Nil sync groups become
// empty lists so the marshalled document always carries all four keys.
func NewViewConfig(views []*View, locationSyncs, valueScaleSyncs, zoomSyncs [][]string) *ViewConfig {
	if views == nil {
		views = []*View{}
	}
	if locationSyncs == nil {
		locationSyncs = [][]string{}
	}
	if valueScaleSyncs == nil {
		valueScaleSyncs = [][]string{}
	}
	if zoomSyncs == nil {
		zoomSyncs = [][]string{}
	}
	return &ViewConfig{
		Views:           views,
		LocationSyncs:   locationSyncs,
		ValueScaleSyncs: valueScaleSyncs,
		ZoomSyncs:       zoomSyncs,
	}
}

// cloneConf deep-copies a free-form configuration map. Nested maps and
// slices are copied recursively; scalar values are shared, which is safe
// because they are immutable.
func cloneConf(conf map[string]any) map[string]any {
	if conf == nil {
		return nil
	}
	c := make(map[string]any, len(conf))
	for k, v := range conf {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneConf(val)
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return v
	}
}
