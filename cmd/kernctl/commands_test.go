package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/kernel"
)

func TestStatsCommand(t *testing.T) {
	resetFlags(t)
	output, err := captureOutput(t, runStats)
	require.NoError(t, err)
	assertContains(t, output, []string{"Kernel Statistics", "Region #0", "Region #1", "4096 bytes: 3/4 free", "Root loads"})

	resetFlags(t)
	jsonOut = true
	output, err = captureOutput(t, runStats)
	require.NoError(t, err)

	var st kernel.Stats
	require.NoError(t, json.Unmarshal([]byte(output), &st))
	assert.Len(t, st.Frames.Regions, 2)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, "running", st.Tasks[0].State)
}

func TestDumpCommand(t *testing.T) {
	tests := []struct {
		name           string
		frame          string
		length         uint64
		offset         uint64
		json           bool
		wantErr        bool
		wantContain    []string
		wantNotContain []string
	}{
		{
			name:        "managed frame",
			frame:       "0x10e",
			length:      32,
			wantContain: []string{"Frame 270 at 0x10e000", "frame(270", "0010e000", "0010e010"},
		},
		{
			name:        "metadata frame",
			frame:       "256",
			length:      16,
			wantContain: []string{"not managed"},
		},
		{
			name:           "offset and json",
			frame:          "270",
			length:         8,
			offset:         8,
			json:           true,
			wantContain:    []string{`"frame": 270`, `"offset": 8`},
			wantNotContain: []string{"Frame 270 at"},
		},
		{name: "bad index", frame: "frame", wantErr: true},
		{name: "offset past frame", frame: "270", offset: 4096, wantErr: true},
		{name: "outside memory", frame: "0x100000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			jsonOut = tt.json
			dumpLength = max(tt.length, 1)
			dumpOffset = tt.offset

			output, err := captureOutput(t, func() error {
				return runDump([]string{tt.frame})
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.json {
				assertJSON(t, output)
			}
			assertContains(t, output, tt.wantContain)
			assertNotContains(t, output, tt.wantNotContain)
		})
	}
}

func TestRenderCP437(t *testing.T) {
	assert.Equal(t, "█A.", renderCP437([]byte{0xdb, 'A', 0x01}))
	assert.Equal(t, "═╗", renderCP437([]byte{0xcd, 0xbb}))
	assert.Equal(t, "00 ff 1a", hexColumns([]byte{0x00, 0xff, 0x1a}))
}

func TestExerciseCommand(t *testing.T) {
	resetFlags(t)
	jsonOut = true
	exerciseRounds = 512
	exerciseTasks = 4

	output, err := captureOutput(t, runExercise)
	require.NoError(t, err)

	var rep ExerciseReport
	require.NoError(t, json.Unmarshal([]byte(output), &rep))
	assert.True(t, rep.ChecksPassed)
	assert.Equal(t, rep.FreeBefore, rep.FreeAfter, "every frame comes back")
	assert.Positive(t, rep.Allocs)
	assert.Equal(t, 4*(128+64+32+16+8+4+2+1)-1, rep.HeapSlots)
	require.Len(t, rep.Tasks, 4)
	for _, tr := range rep.Tasks {
		assert.Equal(t, tr.Ring, tr.CPL)
		assert.Equal(t, "exited", tr.State)
	}
	assert.Equal(t, 8, rep.Switches)

	resetFlags(t)
	exerciseMax = 11
	_, err = captureOutput(t, runExercise)
	require.Error(t, err)
}

func TestExerciseCommand_Text(t *testing.T) {
	resetFlags(t)
	exerciseTasks = 2
	output, err := captureOutput(t, runExercise)
	require.NoError(t, err)
	assertContains(t, output, []string{"Exercise Report", "ring 0: ran at CPL 0", "ring 3: ran at CPL 3", "Invariant checks: passed"})
}

func TestTasksCommand(t *testing.T) {
	tests := []struct {
		name        string
		spawn       int
		ring        int
		run         bool
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "created tasks",
			spawn:       2,
			ring:        3,
			wantContain: []string{"idle-0", "idle-1", "runnable", "running"},
		},
		{
			name:        "run tasks",
			spawn:       1,
			ring:        0,
			run:         true,
			wantContain: []string{"idle-0", "exited"},
		},
		{name: "bad ring", spawn: 1, ring: 2, wantErr: true},
		{name: "too many stacks", spawn: 4, ring: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			tasksSpawn, tasksRing, tasksRun = tt.spawn, tt.ring, tt.run

			output, err := captureOutput(t, runTasks)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestTasksCommand_JSON(t *testing.T) {
	resetFlags(t)
	jsonOut = true
	tasksSpawn = 1

	output, err := captureOutput(t, runTasks)
	require.NoError(t, err)

	var infos []kernel.TaskInfo
	require.NoError(t, json.Unmarshal([]byte(output), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, 3, infos[1].Ring)
	assert.NotEqual(t, infos[0].Root, infos[1].Root)
}
