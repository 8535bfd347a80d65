package messages

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Movement is the client physics profile sent at login.
type Movement struct {
	AirJumps         int     `json:"airJumps" yaml:"airJumps"`
	AirMoveMult      float64 `json:"airMoveMult" yaml:"airMoveMult"`
	Crouch           bool    `json:"crouch" yaml:"crouch"`
	CrouchMoveMult   float64 `json:"crouchMoveMult" yaml:"crouchMoveMult"`
	JumpForce        float64 `json:"jumpForce" yaml:"jumpForce"`
	JumpImpulse      float64 `json:"jumpImpulse" yaml:"jumpImpulse"`
	JumpTime         int     `json:"jumpTime" yaml:"jumpTime"`
	Jumping          bool    `json:"jumping" yaml:"jumping"`
	MaxSpeed         float64 `json:"maxSpeed" yaml:"maxSpeed"`
	MoveForce        float64 `json:"moveForce" yaml:"moveForce"`
	Responsiveness   float64 `json:"responsiveness" yaml:"responsiveness"`
	Running          bool    `json:"running" yaml:"running"`
	RunningFriction  float64 `json:"runningFriction" yaml:"runningFriction"`
	Sprint           bool    `json:"sprint" yaml:"sprint"`
	SprintMoveMult   float64 `json:"sprintMoveMult" yaml:"sprintMoveMult"`
	StandingFriction float64 `json:"standingFriction" yaml:"standingFriction"`
}

// DefaultMovement returns the stock physics profile.
func DefaultMovement() Movement {
	return Movement{
		AirJumps:         0,
		AirMoveMult:      0.5,
		Crouch:           false,
		CrouchMoveMult:   0.8,
		JumpForce:        6,
		JumpImpulse:      8.5,
		JumpTime:         500,
		Jumping:          false,
		MaxSpeed:         5.5,
		MoveForce:        30,
		Responsiveness:   15,
		Running:          false,
		RunningFriction:  0,
		Sprint:           false,
		SprintMoveMult:   1.2,
		StandingFriction: 4,
	}
}

// LoadMovement overlays a YAML file onto the defaults. A missing file
// yields the defaults unchanged.
func LoadMovement(path string) (Movement, error) {
	m := DefaultMovement()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("failed to read movement profile %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &m); err != nil {
		return DefaultMovement(), fmt.Errorf("failed to parse movement profile %s: %w", path, err)
	}
	return m, nil
}
