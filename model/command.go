package model

// CommandKind tags the closed set of driving commands. The parser in
// package command is the only producer.
type CommandKind string

const (
	CmdAccelerate CommandKind = "accelerate"
	CmdBrake      CommandKind = "brake"
	CmdShift      CommandKind = "shift"
	CmdCoast      CommandKind = "coast"
	CmdPit        CommandKind = "pit"
)

// Command is a parsed driving command. Intensity is meaningful for
// accelerate and brake (0..1); Gear for shift (1..8).
type Command struct {
	Kind      CommandKind `json:"kind"`
	Intensity float64     `json:"intensity,omitempty"`
	Gear      int         `json:"gear,omitempty"`
}

// Coast is the default command applied when a participant's queue is empty.
func Coast() Command { return Command{Kind: CmdCoast} }
