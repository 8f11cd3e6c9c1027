package ledger

import "fmt"

// StatusWord is the two byte trailer (SW1 SW2) of every response.
type StatusWord uint16

const (
	SWSuccess                 StatusWord = 0x9000
	SWUserDenied              StatusWord = 0x6985 // Conditions of use not satisfied, user rejected
	SWWrongData               StatusWord = 0x6A80 // Incorrect data field
	SWInstructionNotSupported StatusWord = 0x6D00
	SWClassNotSupported       StatusWord = 0x6E00
	SWWrongLength             StatusWord = 0x6700
	SWDeviceLocked            StatusWord = 0x6B0C // Solana app answers this while the device is locked
	SWDeviceLockedVendor      StatusWord = 0x5515 // Dashboard lock screen
)

// StatusKind is the closed classification of a status word.
type StatusKind int

const (
	Unknown StatusKind = iota
	Success
	UserDenied
	WrongData
	WrongLength
	InstructionNotSupported
	ClassNotSupported
	DeviceLocked
)

var statusKindNames = map[StatusKind]string{
	Unknown:                 "unknown status",
	Success:                 "success",
	UserDenied:              "denied by user",
	WrongData:               "wrong data",
	WrongLength:             "wrong length",
	InstructionNotSupported: "instruction not supported",
	ClassNotSupported:       "class not supported",
	DeviceLocked:            "device locked",
}

func (k StatusKind) String() string {
	if name, ok := statusKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StatusKind(%d)", int(k))
}

var statusTable = map[StatusWord]StatusKind{
	SWSuccess:                 Success,
	SWUserDenied:              UserDenied,
	SWWrongData:               WrongData,
	SWWrongLength:             WrongLength,
	SWInstructionNotSupported: InstructionNotSupported,
	SWClassNotSupported:       ClassNotSupported,
	SWDeviceLocked:            DeviceLocked,
	SWDeviceLockedVendor:      DeviceLocked,
}

// Classify maps any status word to its kind. Codes missing from the table
// are Unknown; the raw code stays available on the StatusError.
func Classify(sw StatusWord) StatusKind {
	if kind, ok := statusTable[sw]; ok {
		return kind
	}
	return Unknown
}

// Err returns nil for 0x9000 and a *StatusError for everything else.
func (sw StatusWord) Err() error {
	kind := Classify(sw)
	if kind == Success {
		return nil
	}
	return &StatusError{Kind: kind, Code: sw}
}

func (sw StatusWord) String() string {
	return fmt.Sprintf("%04x %v", uint16(sw), Classify(sw))
}
