package config

import "fmt"

// Settings is the runtime-adjustable subset of the configuration, shaped
// like the rig's get_config / set_config payload.
type Settings struct {
	Motor     MotorSettings     `json:"motor"`
	Camera    CameraSettings    `json:"camera"`
	Stack     StackSettings     `json:"stack"`
	Interface InterfaceSettings `json:"interface"`
}

type MotorSettings struct {
	MinWidth   uint32 `json:"min_width"`
	MaxWidth   uint32 `json:"max_width"`
	RampLength uint32 `json:"ramp_length"`
}

type CameraSettings struct {
	FocusDuration   int `json:"focus_duration"`
	ShutterDuration int `json:"shutter_duration"`
}

type StackSettings struct {
	StackCount       int   `json:"stack_count"`
	MoveSteps        int32 `json:"move_steps"`
	DelayBeforePhoto int   `json:"delay_before_photo"`
	DelayAfterPhoto  int   `json:"delay_after_photo"`
}

type InterfaceSettings struct {
	StatusInterval int `json:"status_interval"`
}

// Settings extracts the adjustable settings.
func (c *Config) Settings() Settings {
	return Settings{
		Motor: MotorSettings{
			MinWidth:   c.Motor.MinWidthUs,
			MaxWidth:   c.Motor.MaxWidthUs,
			RampLength: c.Motor.RampLength,
		},
		Camera: CameraSettings{
			FocusDuration:   c.Camera.FocusDurationMs,
			ShutterDuration: c.Camera.ShutterDurationMs,
		},
		Stack: StackSettings{
			StackCount:       c.Stack.StackCount,
			MoveSteps:        c.Stack.MoveSteps,
			DelayBeforePhoto: c.Stack.DelayBeforePhotoMs,
			DelayAfterPhoto:  c.Stack.DelayAfterPhotoMs,
		},
		Interface: InterfaceSettings{
			StatusInterval: c.Interface.StatusIntervalMs,
		},
	}
}

// WithSettings returns a copy of c with s applied, or an error if the
// result does not validate. c is left untouched.
func (c *Config) WithSettings(s Settings) (*Config, error) {
	if s.Camera.FocusDuration < 0 || s.Camera.ShutterDuration < 0 {
		return nil, fmt.Errorf("camera durations must be >= 0")
	}
	if s.Stack.DelayBeforePhoto < 0 || s.Stack.DelayAfterPhoto < 0 {
		return nil, fmt.Errorf("stack delays must be >= 0")
	}

	next := *c
	next.Motor.MinWidthUs = s.Motor.MinWidth
	next.Motor.MaxWidthUs = s.Motor.MaxWidth
	next.Motor.RampLength = s.Motor.RampLength
	next.Camera.FocusDurationMs = s.Camera.FocusDuration
	next.Camera.ShutterDurationMs = s.Camera.ShutterDuration
	next.Stack.StackCount = s.Stack.StackCount
	next.Stack.MoveSteps = s.Stack.MoveSteps
	next.Stack.MoveDegrees = 0 // explicit steps win over the configured angle
	next.Stack.DelayBeforePhotoMs = s.Stack.DelayBeforePhoto
	next.Stack.DelayAfterPhotoMs = s.Stack.DelayAfterPhoto
	next.Interface.StatusIntervalMs = s.Interface.StatusInterval

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}
