package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEdid(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, edid.BlockSize)
	copy(data, edid.Header)
	data[8], data[9] = 0x10, 0xAC
	data[10], data[11] = 0x34, 0x12
	data[16], data[17] = 12, 31
	fixed, err := edid.FixChecksum(data)
	require.NoError(t, err)
	return fixed
}

type cliFixture struct {
	configDir string
	drmRoot   string
	workDir   string
}

func newCliFixture(t *testing.T) *cliFixture {
	t.Helper()
	f := &cliFixture{configDir: t.TempDir(), drmRoot: t.TempDir(), workDir: t.TempDir()}
	param := "drm_root: " + f.drmRoot + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.configDir, "param.yaml"), []byte(param), 0644))
	return f
}

func (f *cliFixture) file(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(f.workDir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func (f *cliFixture) run(args ...string) (string, string, error) {
	root := NewRootCmd()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"-c", f.configDir}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRoot_ShowsHelp(t *testing.T) {
	f := newCliFixture(t)
	stdout, _, err := f.run()
	require.NoError(t, err)
	assert.Contains(t, stdout, "Usage:")
	assert.Contains(t, stdout, "edid")

	_, _, err = f.run("--no-such-flag")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	f := newCliFixture(t)
	stdout, _, err := f.run("version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Version ")
}

func TestEdid_DecodeValidate(t *testing.T) {
	f := newCliFixture(t)
	data := sampleEdid(t)
	binFile := f.file(t, "monitor.bin", data)
	hexFile := f.file(t, "monitor.txt", []byte(edid.FormatHex(data, 16)))

	stdout, _, err := f.run("edid", "decode", binFile)
	require.NoError(t, err)
	assert.Contains(t, stdout, "DEL")
	assert.Contains(t, stdout, "0x1234")
	assert.Contains(t, stdout, "week 12 of 2021")

	stdout, _, err = f.run("edid", "validate", hexFile)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Valid EDID (128 bytes)")

	broken := append([]byte(nil), data...)
	broken[40]++
	brokenFile := f.file(t, "broken.bin", broken)
	_, stderr, err := f.run("edid", "validate", brokenFile)
	require.Error(t, err)
	assert.Contains(t, stderr, "Invalid EDID")
	assert.Contains(t, stderr, "invalid_data")
}

func TestEdid_FixAndDiff(t *testing.T) {
	f := newCliFixture(t)
	data := sampleEdid(t)
	broken := append([]byte(nil), data...)
	broken[127]++
	brokenFile := f.file(t, "broken.bin", broken)
	goodFile := f.file(t, "good.bin", data)

	stdout, _, err := f.run("edid", "diff", goodFile, brokenFile)
	require.Error(t, err)
	assert.Contains(t, stdout, "0x7F")

	fixedFile := filepath.Join(f.workDir, "fixed.bin")
	stdout, _, err = f.run("edid", "fix", brokenFile, "-o", fixedFile)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 checksum byte(s) fixed")

	fixed, err := os.ReadFile(fixedFile)
	require.NoError(t, err)
	assert.Equal(t, data, fixed)

	stdout, _, err = f.run("edid", "diff", goodFile, fixedFile)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Identical (128 bytes)")
}

func TestEdid_SaveMatchList(t *testing.T) {
	f := newCliFixture(t)
	binFile := f.file(t, "monitor.bin", sampleEdid(t))

	stdout, _, err := f.run("edid", "match", binFile)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No saved EDID matches")

	stdout, _, err = f.run("edid", "save", binFile, "Meeting Room")
	require.NoError(t, err)
	assert.Contains(t, stdout, filepath.Join(f.configDir, "edid_files", "meeting_room.bin"))

	_, stderr, err := f.run("edid", "save", binFile, "Other Room")
	require.Error(t, err)
	assert.Contains(t, stderr, "meeting_room.bin")

	stdout, _, err = f.run("edid", "match", binFile)
	require.NoError(t, err)
	assert.Contains(t, stdout, "meeting_room.bin")

	stdout, _, err = f.run("edid", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "meeting_room.bin\t128\t")
}

func TestEdid_ReadWriteDrm(t *testing.T) {
	f := newCliFixture(t)
	data := sampleEdid(t)
	connectorDir := filepath.Join(f.drmRoot, "card1-HDMI-A-2")
	require.NoError(t, os.MkdirAll(connectorDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(connectorDir, "status"), []byte("connected\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(connectorDir, "edid"), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(connectorDir, "edid_override"), nil, 0644))

	stdout, _, err := f.run("connectors")
	require.NoError(t, err)
	assert.Contains(t, stdout, "HDMI-A-2")
	assert.Contains(t, stdout, "connected")

	stdout, _, err = f.run("targets")
	require.NoError(t, err)
	assert.Contains(t, stdout, "drm: HDMI-A-2")

	outFile := filepath.Join(f.workDir, "read.bin")
	stdout, _, err = f.run("edid", "read", "HDMI-A-2", "-o", outFile, "--dump")
	require.NoError(t, err)
	assert.Contains(t, stdout, "drm:HDMI-A-2, 128 bytes")
	assert.Contains(t, stdout, "00: 00 FF FF FF FF FF FF 00")
	assert.Contains(t, stdout, "Valid EDID")
	read, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, data, read)

	stdout, _, err = f.run("edid", "write", outFile, "HDMI-A-2", "--no-verify")
	require.NoError(t, err)
	assert.Contains(t, stdout, "128 bytes written to drm:HDMI-A-2")
	written, err := os.ReadFile(filepath.Join(connectorDir, "edid_override"))
	require.NoError(t, err)
	assert.Equal(t, data, written)

	_, stderr, err := f.run("edid", "read", "HDMI-A-9")
	require.Error(t, err)
	assert.Contains(t, stderr, "not_present")
}

func TestLoadEdidFile(t *testing.T) {
	f := newCliFixture(t)
	data := sampleEdid(t)

	loaded, err := loadEdidFile(f.file(t, "raw.bin", data))
	require.NoError(t, err)
	assert.Equal(t, data, loaded)

	loaded, err = loadEdidFile(f.file(t, "hex.txt", []byte(edid.FormatHex(data, 8)+"\n")))
	require.NoError(t, err)
	assert.Equal(t, data, loaded)

	assert.False(t, isHexText([]byte("  \n")))
	assert.False(t, isHexText([]byte("00: 00 FF")))
}
