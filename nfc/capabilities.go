package nfc

import (
	"fmt"

	libnfc "github.com/clausecker/nfc/v2"
)

// Capability is one modulation/baud-rate pair a reader can poll with.
type Capability struct {
	Modulation libnfc.Modulation
}

// ModulationName returns the libnfc display name of the modulation type.
func (c Capability) ModulationName() string {
	return ModulationName(c.Modulation.Type)
}

// BaudRateName returns the libnfc display name of the baud rate.
func (c Capability) BaudRateName() string {
	return BaudRateName(c.Modulation.BaudRate)
}

func (c Capability) String() string {
	return fmt.Sprintf("%s @ %s", c.ModulationName(), c.BaudRateName())
}

// ModulationName mirrors libnfc's str_nfc_modulation_type.
func ModulationName(t int) string {
	switch t {
	case libnfc.ISO14443a:
		return "ISO/IEC 14443A"
	case libnfc.ISO14443b:
		return "ISO/IEC 14443-4B"
	case libnfc.ISO14443bi:
		return "ISO/IEC 14443-4B'"
	case libnfc.ISO14443b2ct:
		return "ISO/IEC 14443-2B ASK CTx"
	case libnfc.ISO14443b2sr:
		return "ISO/IEC 14443-2B ST SRx"
	case libnfc.Felica:
		return "FeliCa"
	case libnfc.Jewel:
		return "Innovision Jewel"
	case libnfc.DEP:
		return "D.E.P."
	default:
		return "???"
	}
}

// BaudRateName mirrors libnfc's str_nfc_baud_rate.
func BaudRateName(b int) string {
	switch b {
	case libnfc.Nbr106:
		return "106 kbps"
	case libnfc.Nbr212:
		return "212 kbps"
	case libnfc.Nbr424:
		return "424 kbps"
	case libnfc.Nbr847:
		return "847 kbps"
	default:
		return "undefined baud rate"
	}
}

// selectPollCapabilities builds the capability list used for polling from the
// modulation types a reader supports in initiator mode. DEP is skipped since
// peer-to-peer is not polled for, and only the first (fastest) baud rate of
// each modulation is kept.
func selectPollCapabilities(types []int, baudRates func(modulationType int) ([]int, error)) ([]Capability, error) {
	var caps []Capability
	for _, mt := range types {
		if mt == libnfc.DEP {
			continue
		}
		rates, err := baudRates(mt)
		if err != nil {
			return nil, fmt.Errorf("query baud rates for %s: %w", ModulationName(mt), err)
		}
		if len(rates) == 0 {
			continue
		}
		caps = append(caps, Capability{Modulation: libnfc.Modulation{Type: mt, BaudRate: rates[0]}})
	}
	return caps, nil
}

// Modulations extracts the modulation list passed to Device.Poll.
func Modulations(caps []Capability) []libnfc.Modulation {
	mods := make([]libnfc.Modulation, len(caps))
	for i, c := range caps {
		mods[i] = c.Modulation
	}
	return mods
}
