package commands

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symflow/internal/output"
)

// JUMPI to 0x8 through SWAP1; both arms stop.
const branchHex = "0x60086001905700fe5b00"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	var out, errOut bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&errOut)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetArgs(nil)
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
	})
	err := RootCmd.Execute()
	return out.String(), err
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c_d", sanitizeFilename("a/b:c d"))
	long := string(bytes.Repeat([]byte("x"), 300))
	assert.Len(t, sanitizeFilename(long), 200)
}

func TestDecodeHex(t *testing.T) {
	code, err := decodeHex(" 0x6001\n6002 ")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x02}, code)

	_, err = decodeHex("zz")
	assert.Error(t, err)
}

func TestReadBytecode(t *testing.T) {
	dir := t.TempDir()
	hexFile := filepath.Join(dir, "c.hex")
	require.NoError(t, os.WriteFile(hexFile, []byte("6001\n"), 0644))
	code, err := readBytecode(hexFile)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01}, code)

	rawFile := filepath.Join(dir, "c.bin")
	require.NoError(t, os.WriteFile(rawFile, []byte{0x60, 0x01, 0x00}, 0644))
	code, err = readBytecode(rawFile)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01, 0x00}, code)
}

func TestEVMCommandJSON(t *testing.T) {
	out, err := run(t, "evm", "--hex", branchHex, "--mode", "symbolic", "--format", "json", "--dfg=false", "--lattice=false")
	require.NoError(t, err)

	var rec output.GraphRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "bytecode", rec.Name)
	assert.Len(t, rec.Blocks, 3)
	assert.NotEmpty(t, rec.DataFlow)
}

func TestEVMCommandLoops(t *testing.T) {
	// Entry block at offset 0; block 4 jumps to itself.
	out, err := run(t, "evm", "--hex", "600456fe5b600456", "--mode", "symbolic", "--format", "json", "--dfg=false", "--lattice=false")
	require.NoError(t, err)
	var rec output.GraphRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, [][]int64{{4}}, rec.Loops)

	out, err = run(t, "evm", "--hex", "600456fe5b00", "--mode", "symbolic", "--format", "json", "--dfg=false", "--lattice=false")
	require.NoError(t, err)
	rec = output.GraphRecord{}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Empty(t, rec.Loops)
}

func TestEVMCommandDOT(t *testing.T) {
	out, err := run(t, "evm", "--hex", branchHex, "--mode", "symbolic", "--format", "dot", "--dfg", "--lattice=false")
	require.NoError(t, err)
	assert.Contains(t, out, `label="0x5: JUMPI"`)

	_, err = run(t, "evm", "--hex", branchHex, "--mode", "static", "--format", "dot", "--dfg", "--lattice=false")
	assert.ErrorIs(t, err, errNoDataFlow)
}

func TestEVMCommandErrors(t *testing.T) {
	_, err := run(t, "evm", "--hex", "")
	assert.ErrorContains(t, err, "--code or --hex is required")

	_, err = run(t, "evm", "--hex", branchHex, "--mode", "concrete")
	assert.ErrorContains(t, err, "unknown mode")
}

func TestARM64CommandRaw(t *testing.T) {
	// ldr x16, [x0,#8]; blr x16; ret
	var code []byte
	for _, w := range []uint32{0xF9400410, 0xD63F0200, 0xD65F03C0} {
		code = binary.LittleEndian.AppendUint32(code, w)
	}
	bin := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(bin, code, 0644))

	out, err := run(t, "arm64", "--bin", bin, "--base", "0x1000", "--mode", "symbolic", "--format", "text",
		"--dfg=false", "--lattice=false", "--listing=false", "--all=false")
	require.NoError(t, err)
	assert.Contains(t, out, "sub_1000: 1 blocks, 0 edges, entry 0x1000")
	assert.Contains(t, out, "0x1004.X16 <- X16@0x1000")

	out, err = run(t, "arm64", "--bin", bin, "--base", "0x1000", "--format", "dot", "--lattice", "--dfg=false",
		"--listing=false", "--all=false")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	out, err = run(t, "arm64", "--bin", bin, "--base", "0x1000", "--listing")
	require.NoError(t, err)
	assert.Contains(t, out, "r:X16")
}

func TestARM64CommandErrors(t *testing.T) {
	_, err := run(t, "arm64", "--all", "--listing=false", "--bin", "")
	assert.ErrorContains(t, err, "--all requires --lib and --out")

	_, err = run(t, "arm64", "--all=false", "--bin", "", "--lib", "")
	assert.ErrorContains(t, err, "is required")
}
