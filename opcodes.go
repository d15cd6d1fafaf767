package mlcb

// OpCode is operation code - first data byte of every MLCB message. Upper 3 bits of opcode tell how many data bytes
// follow the opcode.
type OpCode uint8

// Opcodes that this library sends or handles. Command station (DCC) opcodes are intentionally left out.
const (
	OpcACK     OpCode = 0x00
	OpcRSTAT   OpCode = 0x0C
	OpcQNN     OpCode = 0x0D
	OpcRQNP    OpCode = 0x10
	OpcRQMN    OpCode = 0x11
	OpcSNN     OpCode = 0x42
	OpcRQNN    OpCode = 0x50
	OpcNNREL   OpCode = 0x51
	OpcNNACK   OpCode = 0x52
	OpcNNLRN   OpCode = 0x53
	OpcNNULN   OpCode = 0x54
	OpcNNCLR   OpCode = 0x55
	OpcNNEVN   OpCode = 0x56
	OpcNERD    OpCode = 0x57
	OpcRQEVN   OpCode = 0x58
	OpcWRACK   OpCode = 0x59
	OpcBOOT    OpCode = 0x5C
	OpcENUM    OpCode = 0x5D
	OpcCMDERR  OpCode = 0x6F
	OpcEVNLF   OpCode = 0x70
	OpcNVRD    OpCode = 0x71
	OpcNENRD   OpCode = 0x72
	OpcRQNPN   OpCode = 0x73
	OpcNUMEV   OpCode = 0x74
	OpcCANID   OpCode = 0x75
	OpcMODE    OpCode = 0x76
	OpcRQSD    OpCode = 0x78
	OpcRDGN    OpCode = 0x87
	OpcNVSETRD OpCode = 0x8E
	OpcACON    OpCode = 0x90
	OpcACOF    OpCode = 0x91
	OpcAREQ    OpCode = 0x92
	OpcARON    OpCode = 0x93
	OpcAROF    OpCode = 0x94
	OpcEVULN   OpCode = 0x95
	OpcNVSET   OpCode = 0x96
	OpcNVANS   OpCode = 0x97
	OpcASON    OpCode = 0x98
	OpcASOF    OpCode = 0x99
	OpcPARAN   OpCode = 0x9B
	OpcREVAL   OpCode = 0x9C
	OpcARSON   OpCode = 0x9D
	OpcARSOF   OpCode = 0x9E
	OpcHEARTB  OpCode = 0xAB
	OpcSD      OpCode = 0xAC
	OpcGRSP    OpCode = 0xAF
	OpcACON1   OpCode = 0xB0
	OpcACOF1   OpCode = 0xB1
	OpcREQEV   OpCode = 0xB2
	OpcARON1   OpCode = 0xB3
	OpcAROF1   OpCode = 0xB4
	OpcNEVAL   OpCode = 0xB5
	OpcPNN     OpCode = 0xB6
	OpcASON1   OpCode = 0xB8
	OpcASOF1   OpCode = 0xB9
	OpcARSON1  OpCode = 0xBD
	OpcARSOF1  OpCode = 0xBE
	OpcDGN     OpCode = 0xC7
	OpcACON2   OpCode = 0xD0
	OpcACOF2   OpCode = 0xD1
	OpcEVLRN   OpCode = 0xD2
	OpcEVANS   OpCode = 0xD3
	OpcARON2   OpCode = 0xD4
	OpcAROF2   OpCode = 0xD5
	OpcASON2   OpCode = 0xD8
	OpcASOF2   OpCode = 0xD9
	OpcARSON2  OpCode = 0xDD
	OpcARSOF2  OpCode = 0xDE
	OpcNAME    OpCode = 0xE2
	OpcDTXC    OpCode = 0xE9
	OpcPARAMS  OpCode = 0xEF
	OpcACON3   OpCode = 0xF0
	OpcACOF3   OpCode = 0xF1
	OpcENRSP   OpCode = 0xF2
	OpcARON3   OpCode = 0xF3
	OpcAROF3   OpCode = 0xF4
	OpcASON3   OpCode = 0xF8
	OpcASOF3   OpCode = 0xF9
	OpcARSON3  OpCode = 0xFD
	OpcARSOF3  OpCode = 0xFE
)

// CommandError is reason code sent in CMDERR (and GRSP) responses.
type CommandError uint8

const (
	CmdErrInvalidCommand    CommandError = 1
	CmdErrNotInLearnMode    CommandError = 2
	CmdErrNotInSetupMode    CommandError = 3
	CmdErrTooManyEvents     CommandError = 4
	CmdErrNoEV              CommandError = 5
	CmdErrInvalidEVIndex    CommandError = 6
	CmdErrInvalidEvent      CommandError = 7
	CmdErrInvalidParamIndex CommandError = 9
	CmdErrInvalidNVIndex    CommandError = 10
	CmdErrInvalidEVValue    CommandError = 11
	CmdErrInvalidNVValue    CommandError = 12
)

// GRSP result codes in addition to CommandError values.
const (
	GRSPOk                CommandError = 0
	GRSPInvalidService    CommandError = 252
	GRSPInvalidDiagnostic CommandError = 253
)

// Service identifiers used in service discovery (RQSD/SD) and diagnostics (RDGN/DGN).
const (
	ServiceAll      uint8 = 0
	ServiceMNS      uint8 = 1
	ServiceNV       uint8 = 2
	ServiceCAN      uint8 = 3
	ServiceTeach    uint8 = 4
	ServiceProducer uint8 = 5
	ServiceConsumer uint8 = 6
)

// Module modes set with MODE opcode.
const (
	modeNormal      uint8 = 2
	modeLearn       uint8 = 3
	modeNoHeartbeat uint8 = 7
)

// isAccessoryEvent reports opcode as accessory event and polarity of the event. Short events (isShort) are looked
// up with node number 0.
func isAccessoryEvent(opc OpCode) (isEvent bool, isOn bool, isShort bool) {
	switch opc {
	case OpcACON, OpcACON1, OpcACON2, OpcACON3, OpcARON, OpcARON1, OpcARON2, OpcARON3:
		return true, true, false
	case OpcACOF, OpcACOF1, OpcACOF2, OpcACOF3, OpcAROF, OpcAROF1, OpcAROF2, OpcAROF3:
		return true, false, false
	case OpcASON, OpcASON1, OpcASON2, OpcASON3, OpcARSON, OpcARSON1, OpcARSON2, OpcARSON3:
		return true, true, true
	case OpcASOF, OpcASOF1, OpcASOF2, OpcASOF3, OpcARSOF, OpcARSOF1, OpcARSOF2, OpcARSOF3:
		return true, false, true
	}
	return false, false, false
}
