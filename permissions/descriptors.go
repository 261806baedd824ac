package permissions

import "conference-lab/errors"

// The permission keys known to the core. Values submitted against a key
// are validated through the matching definition before entering a layer.
var (
	CanSendChatMessage          = define(NewDescriptor[bool]("chat/canSendMessage"))
	CanUseTypingIndicator       = define(NewDescriptor[bool]("chat/canUseTypingIndicator"))
	ChatMaxMessageLength        = define(NewDescriptorWithDefault[float64]("chat/maxMessageLength", 512))
	CanSwitchRoom               = define(NewDescriptor[bool]("rooms/canSwitchRoom"))
	CanCreateAndRemoveRooms     = define(NewDescriptor[bool]("rooms/canCreateAndRemove"))
	CanCloseConference          = define(NewDescriptor[bool]("conference/canClose"))
	CanGrantTemporaryPermission = define(NewDescriptor[bool]("permissions/canGiveTemporaryPermission"))
	CanShareScreen              = define(NewDescriptor[bool]("media/canShareScreen"))
)

var known = make(map[string]Definition)

func define[T Value](d Descriptor[T]) Descriptor[T] {
	known[d.Key] = d.Definition()
	return d
}

// LookupDefinition returns the definition of a known permission key.
func LookupDefinition(key string) (Definition, bool) {
	def, ok := known[key]
	return def, ok
}

// ValidateLayerValues vets externally supplied layer contents before they
// enter a stack: every key must be known and every value must match the
// key's declared type.
func ValidateLayerValues(values map[string]any) error {
	for key, value := range values {
		definition, ok := LookupDefinition(key)
		if !ok {
			return errors.NewValidation(key, "unknown permission key")
		}
		if !definition.Validate(value) {
			return errors.NewValidation(key, "value does not match the permission's declared type")
		}
	}
	return nil
}
