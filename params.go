package mlcb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
)

// Parameter block indexes. Index 0 holds number of parameters.
const (
	ParamCount        = 0
	ParamManufacturer = 1
	ParamMinorVersion = 2
	ParamModuleID     = 3
	ParamEvents       = 4
	ParamEVsPerEvent  = 5
	ParamNVs          = 6
	ParamMajorVersion = 7
	ParamFlags        = 8
	ParamCPUID        = 9
	ParamBusType      = 10
	ParamLoadAddress  = 11 // 4 bytes
	ParamCPUMID       = 15 // 4 bytes
	ParamCPUMaker     = 19
	ParamBeta         = 20
)

// Parameter flags (ParamFlags)
const (
	FlagConsumer  uint8 = 1
	FlagProducer  uint8 = 2
	FlagFLiM      uint8 = 4
	FlagBootable  uint8 = 8
	FlagSelfEvent uint8 = 16
	FlagLearn     uint8 = 32
)

const (
	// ManufacturerMERG is manufacturer id for MERG modules
	ManufacturerMERG uint8 = 165
	// ManufacturerDev is manufacturer id for developers without assigned id
	ManufacturerDev uint8 = 13
	// ModuleTypeMLCB is module type id shared by all MLCB modules
	ModuleTypeMLCB uint8 = 0xFC

	busTypeCAN  uint8 = 1
	cpuMakerARM uint8 = 3
)

// Params is module parameter block. It is sent in PARAMS (first 7 parameters) and PARAN (single parameter) responses.
type Params [21]byte

// ParamsConfig describes module for parameter block creation.
type ParamsConfig struct {
	Manufacturer uint8
	ModuleID     uint8
	// Version is module firmware version as semantic version. Major goes to major version parameter, minor is sent
	// as letter ('a' for 0) and numeric part of pre-release (`1.2.0-beta.3`) as beta number.
	Version string

	MaxEvents   uint8
	EVsPerEvent uint8
	NVs         uint8

	// Flags are initial parameter flags. FLiM and learn flags are maintained by Node.
	Flags uint8
	CPUID uint8
	// CPUName is 4 character processor name/version.
	CPUName string
}

// NewParams creates parameter block from config.
func NewParams(c ParamsConfig) (Params, error) {
	var p Params
	p[ParamCount] = 20
	p[ParamManufacturer] = c.Manufacturer
	p[ParamModuleID] = c.ModuleID
	p[ParamEvents] = c.MaxEvents
	p[ParamEVsPerEvent] = c.EVsPerEvent
	p[ParamNVs] = c.NVs
	p[ParamFlags] = c.Flags
	p[ParamCPUID] = c.CPUID
	p[ParamBusType] = busTypeCAN
	p[ParamCPUMaker] = cpuMakerARM
	copy(p[ParamCPUMID:ParamCPUMID+4], c.CPUName)

	if c.Version != "" {
		v, err := semver.NewVersion(c.Version)
		if err != nil {
			return Params{}, fmt.Errorf("invalid module version: %w", err)
		}
		if v.Major() > 255 || v.Minor() > 25 {
			return Params{}, fmt.Errorf("module version %v does not fit into parameters", c.Version)
		}
		p[ParamMajorVersion] = uint8(v.Major())
		p[ParamMinorVersion] = 'a' + uint8(v.Minor())
		p[ParamBeta] = betaNumber(v.Prerelease())
	}
	return p, nil
}

func betaNumber(prerelease string) uint8 {
	if prerelease == "" {
		return 0
	}
	parts := strings.Split(prerelease, ".")
	n, err := strconv.ParseUint(parts[len(parts)-1], 10, 8)
	if err != nil {
		return 0
	}
	return uint8(n)
}

// Get returns parameter by index and false when index is out of declared range.
func (p *Params) Get(index uint8) (uint8, bool) {
	if index > p[ParamCount] || int(index) >= len(p) {
		return 0, false
	}
	return p[index], true
}

func (p *Params) setFlag(flag uint8, isSet bool) {
	if isSet {
		p[ParamFlags] |= flag
	} else {
		p[ParamFlags] &^= flag
	}
}
