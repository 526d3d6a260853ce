package nand

import (
	"fmt"

	"github.com/sarchlab/ssdsim/sim/timing"
)

// Delays are the stage latencies of the NAND model, in microseconds.
type Delays struct {
	RegisterWrite      timing.VTimeInUsec `mapstructure:"register_write" json:"register_write"`
	RegisterRead       timing.VTimeInUsec `mapstructure:"register_read" json:"register_read"`
	CellProgram        timing.VTimeInUsec `mapstructure:"cell_program" json:"cell_program"`
	CellRead           timing.VTimeInUsec `mapstructure:"cell_read" json:"cell_read"`
	BlockErase         timing.VTimeInUsec `mapstructure:"block_erase" json:"block_erase"`
	ChannelSwitchRead  timing.VTimeInUsec `mapstructure:"channel_switch_read" json:"channel_switch_read"`
	ChannelSwitchWrite timing.VTimeInUsec `mapstructure:"channel_switch_write" json:"channel_switch_write"`
}

// DefaultDelays returns the delays of a typical MLC part.
func DefaultDelays() Delays {
	return Delays{
		RegisterWrite:      82,
		RegisterRead:       82,
		CellProgram:        900,
		CellRead:           50,
		BlockErase:         2000,
		ChannelSwitchRead:  16,
		ChannelSwitchWrite: 33,
	}
}

// Validate rejects negative delays.
func (d Delays) Validate() error {
	all := []struct {
		name  string
		value timing.VTimeInUsec
	}{
		{"register write", d.RegisterWrite},
		{"register read", d.RegisterRead},
		{"cell program", d.CellProgram},
		{"cell read", d.CellRead},
		{"block erase", d.BlockErase},
		{"channel switch read", d.ChannelSwitchRead},
		{"channel switch write", d.ChannelSwitchWrite},
	}

	for _, f := range all {
		if f.value < 0 {
			return fmt.Errorf("%s delay must not be negative, got %d", f.name, f.value)
		}
	}

	return nil
}

func (d Delays) channelSwitch(prev Op) timing.VTimeInUsec {
	switch prev {
	case OpRead:
		return d.ChannelSwitchRead
	case OpWrite:
		return d.ChannelSwitchWrite
	}

	return 0
}
