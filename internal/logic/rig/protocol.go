package rig

import (
	"fmt"

	"github.com/cjeanneret/FocusGo/internal/config"
)

// Message types understood by Dispatch.
const (
	MsgGetVersion  = "get_version"
	MsgGetConfig   = "get_config"
	MsgSetConfig   = "set_config"
	MsgGetStatus   = "get_status"
	MsgActionMotor = "action_motor"
	MsgActionStack = "action_stack"
	MsgActionStop  = "action_stop"
	MsgActionPhoto = "action_photo"
)

// Command is one request from a transport (websocket or serial).
type Command struct {
	MsgType     string           `json:"msg_type"`
	Config      *config.Settings `json:"config,omitempty"`
	ActionMotor *MotorAction     `json:"action_motor,omitempty"`
}

// MotorAction is the payload of action_motor.
type MotorAction struct {
	Steps int32 `json:"steps"`
}

// Reply answers a Command. MsgType echoes the request; Error is set when
// the command was refused.
type Reply struct {
	MsgType string           `json:"msg_type"`
	Version string           `json:"version,omitempty"`
	Config  *config.Settings `json:"config,omitempty"`
	Status  *Status          `json:"status,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Dispatch executes cmd and builds its reply. It never panics on bad
// input: malformed or unknown commands get an Error reply.
func (r *Rig) Dispatch(cmd Command) Reply {
	reply := Reply{MsgType: cmd.MsgType}
	fail := func(err error) Reply {
		reply.Error = err.Error()
		return reply
	}

	switch cmd.MsgType {
	case MsgGetVersion:
		reply.Version = r.Version()
	case MsgGetConfig:
		s := r.Settings()
		reply.Config = &s
	case MsgSetConfig:
		if cmd.Config == nil {
			return fail(fmt.Errorf("%s: missing config", cmd.MsgType))
		}
		if err := r.SetSettings(*cmd.Config); err != nil {
			return fail(err)
		}
		s := r.Settings()
		reply.Config = &s
	case MsgGetStatus:
		st := r.Status()
		reply.Status = &st
	case MsgActionMotor:
		if cmd.ActionMotor == nil {
			return fail(fmt.Errorf("%s: missing action_motor payload", cmd.MsgType))
		}
		if err := r.MoveMotor(cmd.ActionMotor.Steps); err != nil {
			return fail(err)
		}
	case MsgActionStack:
		if err := r.StartStack(); err != nil {
			return fail(err)
		}
	case MsgActionStop:
		r.Stop()
	case MsgActionPhoto:
		if err := r.Photo(); err != nil {
			return fail(err)
		}
	default:
		return fail(fmt.Errorf("unknown message type %q", cmd.MsgType))
	}
	return reply
}
