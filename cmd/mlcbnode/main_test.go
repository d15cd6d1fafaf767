package main

import (
	"testing"

	"github.com/aldas/go-mlcb"
	"github.com/aldas/go-mlcb/internal/config"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestParseFrameArgs(t *testing.T) {
	var testCases = []struct {
		name      string
		given     []string
		expect    []byte
		expectErr string
	}{
		{
			name:   "ok, opcode only",
			given:  []string{"0d"},
			expect: []byte{0x0D},
		},
		{
			name:   "ok, opcode and data",
			given:  []string{"90", "012C", "0005"},
			expect: []byte{0x90, 0x01, 0x2C, 0x00, 0x05},
		},
		{
			name:      "nok, missing opcode",
			given:     nil,
			expectErr: "usage: send <opcode hex> [data hex]",
		},
		{
			name:      "nok, invalid opcode",
			given:     []string{"xx"},
			expectErr: `invalid opcode: strconv.ParseUint: parsing "xx": invalid syntax`,
		},
		{
			name:      "nok, too much data",
			given:     []string{"e9", "0102030405060708"},
			expectErr: "frame can hold up to 7 data bytes",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := parseFrameArgs(tc.given)
			if tc.expectErr != "" {
				assert.EqualError(t, err, tc.expectErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expect, frame.Payload())
		})
	}
}

func TestParamsConfig(t *testing.T) {
	cfg := &config.Config{
		Node:  config.NodeConfig{Version: "1.0.0", Consumer: true},
		Store: config.StoreConfig{MaxEvents: 32, EVsPerEvent: 2, NVs: 8},
	}

	pc := paramsConfig(cfg)

	assert.Equal(t, mlcb.ManufacturerDev, pc.Manufacturer)
	assert.Equal(t, mlcb.ModuleTypeMLCB, pc.ModuleID)
	assert.Equal(t, mlcb.FlagBootable|mlcb.FlagConsumer, pc.Flags)
	assert.Equal(t, uint8(32), pc.MaxEvents)
}

func TestLEDWriter(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	write := ledWriter(logger, "green")

	write(false)
	write(true)
	write(true)
	write(false)

	if assert.Len(t, hook.Entries, 2) {
		assert.Equal(t, true, hook.Entries[0].Data["on"])
		assert.Equal(t, false, hook.Entries[1].Data["on"])
	}
}
