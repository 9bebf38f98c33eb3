package protocol

import "fmt"

type AnimationState uint8

const (
	AnimIdle AnimationState = iota
	AnimRunning
	AnimJumping
	AnimAttack1
	AnimAttack2
	AnimDeath

	animMax
)

func (a AnimationState) Valid() bool {
	return a < animMax
}

func (a AnimationState) String() string {
	switch a {
	case AnimIdle:
		return "idle"
	case AnimRunning:
		return "running"
	case AnimJumping:
		return "jumping"
	case AnimAttack1:
		return "attack1"
	case AnimAttack2:
		return "attack2"
	case AnimDeath:
		return "death"
	default:
		return fmt.Sprintf("anim(%d)", uint8(a))
	}
}

type CharacterKind uint8

const (
	CharacterWitcher CharacterKind = iota
	CharacterWitch

	characterMax
)

func (c CharacterKind) Valid() bool {
	return c < characterMax
}

type Vec2 struct {
	X float32
	Y float32
}

// EntityState is the replicated part of a player. OwnerID is the client id
// allowed to author motion for it; ObjectID is assigned by the authority.
type EntityState struct {
	Anim        AnimationState
	OwnerID     int32
	ObjectID    int32
	Character   CharacterKind
	Position    Vec2
	Velocity    Vec2
	FacingRight bool
}

// MotionSample extracts what the owner sends on every simulation tick.
func (s EntityState) MotionSample() Motion {
	return Motion{
		X:           s.Position.X,
		Y:           s.Position.Y,
		VX:          s.Velocity.X,
		VY:          s.Velocity.Y,
		Anim:        s.Anim,
		FacingRight: s.FacingRight,
	}
}

// ApplyMotion overwrites the motion-carrying fields. Ownership and identity
// are left untouched.
func (s *EntityState) ApplyMotion(m Motion) {
	s.Position = Vec2{X: m.X, Y: m.Y}
	s.Velocity = Vec2{X: m.VX, Y: m.VY}
	s.Anim = m.Anim
	s.FacingRight = m.FacingRight
}
