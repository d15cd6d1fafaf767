package mlcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewParams(t *testing.T) {
	var testCases = []struct {
		name        string
		given       ParamsConfig
		expectMajor uint8
		expectMinor uint8
		expectBeta  uint8
		expectErr   string
	}{
		{
			name:        "ok, release version",
			given:       ParamsConfig{Version: "2.1.0"},
			expectMajor: 2,
			expectMinor: 'b',
		},
		{
			name:        "ok, beta version",
			given:       ParamsConfig{Version: "1.0.0-beta.3"},
			expectMajor: 1,
			expectMinor: 'a',
			expectBeta:  3,
		},
		{
			name:        "ok, pre-release without number is not beta",
			given:       ParamsConfig{Version: "1.3.0-rc"},
			expectMajor: 1,
			expectMinor: 'd',
		},
		{
			name:  "ok, no version",
			given: ParamsConfig{},
		},
		{
			name:      "nok, invalid version",
			given:     ParamsConfig{Version: "x.y"},
			expectErr: "invalid module version: Invalid Semantic Version",
		},
		{
			name:      "nok, minor version does not fit into letter",
			given:     ParamsConfig{Version: "1.26.0"},
			expectErr: "module version 1.26.0 does not fit into parameters",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewParams(tc.given)
			if tc.expectErr != "" {
				assert.EqualError(t, err, tc.expectErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, uint8(20), p[ParamCount])
			assert.Equal(t, tc.expectMajor, p[ParamMajorVersion])
			assert.Equal(t, tc.expectMinor, p[ParamMinorVersion])
			assert.Equal(t, tc.expectBeta, p[ParamBeta])
		})
	}
}

func TestNewParams_fields(t *testing.T) {
	p, err := NewParams(ParamsConfig{
		Manufacturer: ManufacturerMERG,
		ModuleID:     ModuleTypeMLCB,
		MaxEvents:    32,
		EVsPerEvent:  2,
		NVs:          8,
		Flags:        FlagConsumer,
		CPUID:        50,
		CPUName:      "RP20",
	})
	assert.NoError(t, err)

	assert.Equal(t, ManufacturerMERG, p[ParamManufacturer])
	assert.Equal(t, ModuleTypeMLCB, p[ParamModuleID])
	assert.Equal(t, uint8(32), p[ParamEvents])
	assert.Equal(t, uint8(2), p[ParamEVsPerEvent])
	assert.Equal(t, uint8(8), p[ParamNVs])
	assert.Equal(t, FlagConsumer, p[ParamFlags])
	assert.Equal(t, uint8(50), p[ParamCPUID])
	assert.Equal(t, busTypeCAN, p[ParamBusType])
	assert.Equal(t, []byte("RP20"), p[ParamCPUMID:ParamCPUMID+4])
	assert.Equal(t, cpuMakerARM, p[ParamCPUMaker])
}

func TestParams_Get(t *testing.T) {
	p, err := NewParams(ParamsConfig{Manufacturer: ManufacturerDev})
	assert.NoError(t, err)

	v, ok := p.Get(ParamManufacturer)
	assert.True(t, ok)
	assert.Equal(t, ManufacturerDev, v)

	v, ok = p.Get(ParamBeta)
	assert.True(t, ok)
	assert.Equal(t, uint8(0), v)

	_, ok = p.Get(21)
	assert.False(t, ok)
}

func TestParams_setFlag(t *testing.T) {
	p := Params{}
	p.setFlag(FlagFLiM, true)
	p.setFlag(FlagLearn, true)
	assert.Equal(t, FlagFLiM|FlagLearn, p[ParamFlags])

	p.setFlag(FlagFLiM, false)
	assert.Equal(t, FlagLearn, p[ParamFlags])
}
