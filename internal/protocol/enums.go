package protocol

import "fmt"

// ReferenceLevel is the device gain reference. The wire code is the absolute
// dBm value.
type ReferenceLevel byte

const (
	ReferenceLevelMinus10 ReferenceLevel = 0x0A
	ReferenceLevelMinus20 ReferenceLevel = 0x14
	ReferenceLevelMinus30 ReferenceLevel = 0x1E
	ReferenceLevelMinus40 ReferenceLevel = 0x28
	ReferenceLevelMinus50 ReferenceLevel = 0x32
)

// referenceLevelRange is the dB span covered by one sample byte range at 0.2 dB
// per count.
const referenceLevelRange = 50

func ParseReferenceLevel(code byte) (ReferenceLevel, error) {
	rl := ReferenceLevel(code)
	if !rl.Valid() {
		return 0, fmt.Errorf("%w: unknown reference level code 0x%02X", ErrMalformedPayload, code)
	}

	return rl, nil
}

// ReferenceLevelFromDBm maps -10, -20 ... -50 to a reference level.
func ReferenceLevelFromDBm(dbm int) (ReferenceLevel, error) {
	if dbm > 0 || dbm < -255 {
		return 0, fmt.Errorf("reference level out of range: %d dBm", dbm)
	}
	rl := ReferenceLevel(byte(-dbm))
	if !rl.Valid() {
		return 0, fmt.Errorf("unsupported reference level: %d dBm", dbm)
	}

	return rl, nil
}

func (r ReferenceLevel) Valid() bool {
	switch r {
	case ReferenceLevelMinus10, ReferenceLevelMinus20, ReferenceLevelMinus30, ReferenceLevelMinus40, ReferenceLevelMinus50:
		return true
	}

	return false
}

func (r ReferenceLevel) DBm() int {
	return -int(r)
}

// Offset is the linear dBm offset added to 0.2*sample.
func (r ReferenceLevel) Offset() float64 {
	return float64(r.DBm() - referenceLevelRange)
}

func (r ReferenceLevel) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ReferenceLevel(0x%02X)", byte(r))
	}

	return fmt.Sprintf("%d dBm", r.DBm())
}

// ResolutionBandwidth is the device sampling granularity. Codes are single
// bits so the hardware description can advertise a mask of them.
type ResolutionBandwidth byte

const (
	RBW3MHz   ResolutionBandwidth = 0x80
	RBW1MHz   ResolutionBandwidth = 0x40
	RBW300kHz ResolutionBandwidth = 0x20
	RBW100kHz ResolutionBandwidth = 0x10
	RBW10kHz  ResolutionBandwidth = 0x08
	RBW3kHz   ResolutionBandwidth = 0x04
)

var allResolutionBandwidths = []ResolutionBandwidth{RBW3MHz, RBW1MHz, RBW300kHz, RBW100kHz, RBW10kHz, RBW3kHz}

func ParseResolutionBandwidth(code byte) (ResolutionBandwidth, error) {
	rbw := ResolutionBandwidth(code)
	if rbw.MHz() == 0 {
		return 0, fmt.Errorf("%w: unknown resolution bandwidth code 0x%02X", ErrMalformedPayload, code)
	}

	return rbw, nil
}

// ResolutionBandwidthFromMHz picks the bandwidth whose nominal value matches mhz.
func ResolutionBandwidthFromMHz(mhz float64) (ResolutionBandwidth, error) {
	for _, rbw := range allResolutionBandwidths {
		if nearlyEqual(rbw.MHz(), mhz) {
			return rbw, nil
		}
	}

	return 0, fmt.Errorf("unsupported resolution bandwidth: %g MHz", mhz)
}

// ResolutionBandwidthsFromMask expands a capability mask, widest first.
func ResolutionBandwidthsFromMask(mask byte) []ResolutionBandwidth {
	out := make([]ResolutionBandwidth, 0, len(allResolutionBandwidths))
	for _, rbw := range allResolutionBandwidths {
		if mask&byte(rbw) != 0 {
			out = append(out, rbw)
		}
	}

	return out
}

func (r ResolutionBandwidth) MHz() float64 {
	switch r {
	case RBW3MHz:
		return 3
	case RBW1MHz:
		return 1
	case RBW300kHz:
		return 0.3
	case RBW100kHz:
		return 0.1
	case RBW10kHz:
		return 0.01
	case RBW3kHz:
		return 0.003
	}

	return 0
}

func (r ResolutionBandwidth) String() string {
	switch r {
	case RBW3MHz:
		return "3 MHz"
	case RBW1MHz:
		return "1 MHz"
	case RBW300kHz:
		return "300 kHz"
	case RBW100kHz:
		return "100 kHz"
	case RBW10kHz:
		return "10 kHz"
	case RBW3kHz:
		return "3 kHz"
	}

	return fmt.Sprintf("ResolutionBandwidth(0x%02X)", byte(r))
}

// ProductID is the model code reported by the firmware.
type ProductID byte

const (
	ProductRSA1100 ProductID = 0x4B
	ProductRSA2150 ProductID = 0x4D
	ProductRSA2500 ProductID = 0x5F
	ProductRSA3000 ProductID = 0x61
)

func (p ProductID) String() string {
	switch p {
	case ProductRSA1100:
		return "RSA-1100"
	case ProductRSA2150:
		return "RSA-2150"
	case ProductRSA2500:
		return "RSA-2500"
	case ProductRSA3000:
		return "RSA-3000"
	}

	return fmt.Sprintf("Product(0x%02X)", byte(p))
}

// PCBRevision is the board revision reported in the hardware description.
type PCBRevision byte

const (
	PCBRevisionA PCBRevision = 0x0A
	PCBRevisionB PCBRevision = 0x0B
	PCBRevisionC PCBRevision = 0x0C
	PCBRevisionD PCBRevision = 0x0D
)

func (p PCBRevision) String() string {
	if p >= PCBRevisionA && p <= PCBRevisionD {
		return "Rev " + string(rune('A'+byte(p-PCBRevisionA)))
	}

	return fmt.Sprintf("PCBRevision(0x%02X)", byte(p))
}

// InputConnector selects one of the RF inputs. Wire codes start at 10.
type InputConnector byte

const (
	InputRF1 InputConnector = 10 + iota
	InputRF2
	InputRF3
	InputRF4
	InputRF5
	InputRF6
)

func ParseInputConnector(code byte) (InputConnector, error) {
	in := InputConnector(code)
	if !in.Valid() {
		return 0, fmt.Errorf("%w: unknown input connector code 0x%02X", ErrMalformedPayload, code)
	}

	return in, nil
}

// InputConnectorFromNumber maps the 1-based port number printed on the panel.
func InputConnectorFromNumber(n int) (InputConnector, error) {
	if n < 1 || n > 6 {
		return 0, fmt.Errorf("unsupported rf input: %d", n)
	}

	return InputRF1 + InputConnector(n-1), nil
}

func (c InputConnector) Valid() bool {
	return c >= InputRF1 && c <= InputRF6
}

func (c InputConnector) Number() int {
	return int(c-InputRF1) + 1
}

func (c InputConnector) String() string {
	if !c.Valid() {
		return fmt.Sprintf("InputConnector(0x%02X)", byte(c))
	}

	return fmt.Sprintf("RF%d", c.Number())
}

// LNBPower is the configured LNB supply.
type LNBPower byte

const (
	LNBPowerOff LNBPower = 0x00
	LNBPower13V LNBPower = 0x01
	LNBPower18V LNBPower = 0x02
)

func (l LNBPower) String() string {
	switch l {
	case LNBPowerOff:
		return "off"
	case LNBPower13V:
		return "13V"
	case LNBPower18V:
		return "18V"
	}

	return fmt.Sprintf("LNBPower(0x%02X)", byte(l))
}
