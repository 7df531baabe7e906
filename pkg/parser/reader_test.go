package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/logflow/bcilog/internal/model"
	lferrors "github.com/logflow/bcilog/pkg/errors"
)

const sampleTranscript = `sts:1000 MC ts:10 mode:Calibration.supervised <-/192.168.1.5:8400
sts:1010 SE ts:20 v[4]:{1,10,2,0} <-/192.168.1.5:8400
this line is noise
sts:1020 DP ts:500 v[2x2]:[[1,2],[3,4]] <-/192.168.1.9:8400
sts:1030 SE v[2]:{1,10} <-/192.168.1.5:8400

sts:1040 DP ts:540 v[2x2]:[[5,6],[7,8]] <-/192.168.1.9:8400
`

func TestReaderReadAll(t *testing.T) {
	rd := NewReader(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))

	records, err := rd.ReadAll(context.Background(), strings.NewReader(sampleTranscript))
	require.NoError(t, err)
	require.Len(t, records, 4)

	kinds := make([]model.Kind, len(records))
	for i, r := range records {
		kinds[i] = r.Kind
	}
	assert.Equal(t, []model.Kind{model.KindModeChange, model.KindStimulus, model.KindData, model.KindData}, kinds)
	assert.Equal(t, "192.168.1.9:8400", records[3].SenderID)
	assert.Equal(t, int64(1040), records[3].ServerTimestamp)

	stats := rd.Stats()
	assert.Equal(t, 7, stats.Lines)
	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, 3, stats.Skipped())
	assert.Equal(t, 2, stats.ByKind[model.KindData])
	assert.Equal(t, 1, stats.Rejected["missing_timestamp"])
	assert.Equal(t, 2, stats.Rejected["no_marker"])
}

func TestReaderSkipsLineMissingTimestamp(t *testing.T) {
	rd := NewReader(DefaultConfig())

	withTS := "sts:1 SE ts:1 v[2]:{1,1} <-/1.1.1.1:1\nsts:2 SE ts:2 v[2]:{1,0} <-/1.1.1.1:1\n"
	withoutTS := "sts:1 SE ts:1 v[2]:{1,1} <-/1.1.1.1:1\nsts:2 SE v[2]:{1,0} <-/1.1.1.1:1\n"

	all, err := rd.ReadAll(context.Background(), strings.NewReader(withTS))
	require.NoError(t, err)
	some, err := rd.ReadAll(context.Background(), strings.NewReader(withoutTS))
	require.NoError(t, err)

	assert.Len(t, all, 2)
	assert.Len(t, some, 1)
	assert.Equal(t, int64(1), some[0].RawTimestamp)
}

func TestReaderParseStreamsInOrder(t *testing.T) {
	rd := NewReader(DefaultConfig())
	out := make(chan model.Record, 16)

	err := rd.Parse(context.Background(), strings.NewReader(sampleTranscript), out)
	require.NoError(t, err)
	close(out)

	var ts []int64
	for r := range out {
		ts = append(ts, r.RawTimestamp)
	}
	assert.Equal(t, []int64{10, 20, 500, 540}, ts)
}

func TestReaderContextCanceled(t *testing.T) {
	rd := NewReader(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rd.ReadAll(ctx, strings.NewReader(sampleTranscript))
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeContextCanceled))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaderResourceErrors(t *testing.T) {
	t.Run("read failure", func(t *testing.T) {
		rd := NewReader(DefaultConfig())
		boom := errors.New("disk gone")

		_, err := rd.ReadAll(context.Background(), iotest.ErrReader(boom))
		require.Error(t, err)
		assert.True(t, lferrors.IsCode(err, lferrors.CodeReadFailed))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("line too long", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BufferSize = 16
		cfg.MaxLineBytes = 32
		rd := NewReader(cfg)

		line := "sts:1 DP ts:1 v[1x8]:[1,2,3,4,5,6,7,8] <-/1.1.1.1:1\n"
		_, err := rd.ReadAll(context.Background(), strings.NewReader(line))
		require.Error(t, err)
		assert.True(t, lferrors.IsCode(err, lferrors.CodeLineTooLong))
	})
}

func TestNewReaderDefaults(t *testing.T) {
	rd := NewReader(Config{})
	assert.Equal(t, DefaultMarkers(), rd.cfg.Markers)
	assert.Equal(t, DefaultConfig().MaxLineBytes, rd.cfg.MaxLineBytes)
}
