package fat_test

import (
	"testing"

	disko "github.com/dargueta/gofat"
	gofattesting "github.com/dargueta/gofat/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatChoosesExpectedFATVersion(t *testing.T) {
	cases := []struct {
		name string
		stat disko.FSStat
	}{
		{"floppy", gofattesting.FloppyStat()},
		{"fat16", gofattesting.SmallFAT16Stat()},
		{"fat32", gofattesting.SmallFAT32Stat()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			volume, base := gofattesting.FormatAndMount(t, tc.stat)
			require.NotNil(t, volume)

			entries, err := base.ReadDir("/")
			require.NoError(t, err)
			assert.Empty(t, entries, "freshly formatted volume should have an empty root")
		})
	}
}

func TestWriteReadRoundTripFAT12(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.FloppyStat())

	content := []byte("the quick brown fox jumps over the lazy dog")
	err := base.WriteFile("/hello.txt", content, 0o644)
	require.NoError(t, err)

	got, err := base.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	stat, err := base.Stat("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), stat.Size)
	assert.False(t, stat.IsDir())
}

func TestWriteReadRoundTripAcrossMultipleClusters(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())

	content := make([]byte, 200*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}

	err := base.WriteFile("/bigfile.bin", content, 0o644)
	require.NoError(t, err)

	got, err := base.ReadFile("/bigfile.bin")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestMkdirAndReadDir(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT32Stat())

	require.NoError(t, base.Mkdir("/subdir", 0o755))
	require.NoError(t, base.WriteFile("/subdir/a.txt", []byte("a"), 0o644))
	require.NoError(t, base.WriteFile("/subdir/b.txt", []byte("b"), 0o644))

	entries, err := base.ReadDir("/subdir")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	rootEntries, err := base.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, rootEntries, 1)
	assert.Equal(t, "subdir", rootEntries[0].Name())
	assert.True(t, rootEntries[0].IsDir())
}

func TestLongFileNameSurvivesRoundTrip(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT32Stat())

	longName := "/this is a long file name with spaces.txt"
	require.NoError(t, base.WriteFile(longName, []byte("payload"), 0o644))

	entries, err := base.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "this is a long file name with spaces.txt", entries[0].Name())

	got, err := base.ReadFile(longName)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRemoveFreesEntryAndSpace(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.FloppyStat())

	require.NoError(t, base.WriteFile("/doomed.txt", []byte("bye"), 0o644))
	require.NoError(t, base.Remove("/doomed.txt"))

	_, err := base.Stat("/doomed.txt")
	assert.ErrorIs(t, err, disko.ErrNotFound)

	entries, err := base.ReadDir("/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnlinkRefusesWhileWriteHandleOpen(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())

	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 256)
	}
	require.NoError(t, base.WriteFile("/openfile.bin", content, 0o644))

	handle, err := base.OpenFile("/openfile.bin", disko.O_WRONLY, 0o644)
	require.NoError(t, err)

	err = base.Remove("/openfile.bin")
	assert.ErrorIs(t, err, disko.ErrLocked, "unlink must refuse a file with an open write handle")

	require.NoError(t, handle.Close())
	require.NoError(t, base.Remove("/openfile.bin"), "once the handle is closed the name can be removed")
}

func TestUnlinkRefusesWhileReadHandleOpen(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())

	content := []byte("the data behind an open reader")
	require.NoError(t, base.WriteFile("/openfile.bin", content, 0o644))

	handle, err := base.OpenFile("/openfile.bin", disko.O_RDONLY, 0o644)
	require.NoError(t, err)

	err = base.Remove("/openfile.bin")
	assert.ErrorIs(t, err, disko.ErrLocked, "unlink must refuse a file with an open read handle too")

	require.NoError(t, handle.Close())
	require.NoError(t, base.Remove("/openfile.bin"))
}

func TestConcurrentReadersAllowedWriterExclusive(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())
	require.NoError(t, base.WriteFile("/shared.bin", []byte("shared content"), 0o644))

	first, err := base.OpenFile("/shared.bin", disko.O_RDONLY, 0o644)
	require.NoError(t, err)
	defer first.Close()

	second, err := base.OpenFile("/shared.bin", disko.O_RDONLY, 0o644)
	require.NoError(t, err, "concurrent readers must be allowed")
	defer second.Close()

	_, err = base.OpenFile("/shared.bin", disko.O_WRONLY, 0o644)
	assert.ErrorIs(t, err, disko.ErrLocked, "a writer must be excluded while readers are attached")
}

func TestTruncateShrinksFileAndFreesClusters(t *testing.T) {
	_, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())

	content := make([]byte, 100*1024)
	require.NoError(t, base.WriteFile("/shrinkme.bin", content, 0o644))

	handle, err := base.OpenFile("/shrinkme.bin", disko.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, handle.Truncate(10))
	require.NoError(t, handle.Close())

	stat, err := base.Stat("/shrinkme.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stat.Size)

	got, err := base.ReadFile("/shrinkme.bin")
	require.NoError(t, err)
	assert.Len(t, got, 10)
}
