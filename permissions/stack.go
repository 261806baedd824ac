package permissions

import "sync"

// Well-known layer names in ascending priority. Later layers override
// earlier ones on key collision.
const (
	LayerConference = "conferenceDefault"
	LayerModerator  = "moderator"
	LayerRoom       = "room"
	LayerTemporary  = "temporary"
)

// Layer is one ordered source of permission values.
type Layer struct {
	Name   string
	Values map[string]any
}

func NewLayer(name string, values map[string]any) Layer {
	return Layer{Name: name, Values: values}
}

// Stack is an ordered list of layers applicable to one participant.
// Flattening is a pure function of the input layers and is computed once
// per stack instance.
type Stack struct {
	layers []Layer

	flattenOnce sync.Once
	flat        map[string]any
}

func NewStack(layers []Layer) *Stack {
	return &Stack{layers: layers}
}

// Flatten overlays all layers into one mapping, later layers winning
// ties. The result is cached; callers must not mutate it.
func (s *Stack) Flatten() map[string]any {
	s.flattenOnce.Do(func() {
		s.flat = make(map[string]any)
		for _, layer := range s.layers {
			for key, value := range layer.Values {
				s.flat[key] = value
			}
		}
	})
	return s.flat
}

// Layers returns the stack's layers in ascending priority order.
func (s *Stack) Layers() []Layer {
	return s.layers
}
