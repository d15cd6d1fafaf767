// Package test_test contains helpers shared by package tests.
package test_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// LoadBytes reads file from testdata directory next to the calling test file. Test fails when file can not be read.
func LoadBytes(t *testing.T, name string) []byte {
	t.Helper()
	_, caller, _, ok := runtime.Caller(1)
	if !ok {
		t.Fatal("can not resolve caller of LoadBytes")
	}
	b, err := os.ReadFile(filepath.Join(filepath.Dir(caller), "testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return b
}
