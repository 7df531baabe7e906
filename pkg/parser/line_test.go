package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/bcilog/internal/model"
)

func TestParseLine_DataPacketShape(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	rec, err := p.ParseLine("sts:1021 DP ts:517 v[2x3]:[[1,2,3],[4,5,6]] <-/192.168.1.7:8400")
	require.NoError(t, err)

	assert.Equal(t, model.KindData, rec.Kind)
	require.NotNil(t, rec.Packet)
	assert.Equal(t, 3, rec.Packet.Rows())
	assert.Equal(t, 2, rec.Packet.Channels())
	// row-major fill, last declared dimension becomes the row count
	assert.Equal(t, 1.0, rec.Packet.Samples.At(0, 0))
	assert.Equal(t, 2.0, rec.Packet.Samples.At(0, 1))
	assert.Equal(t, 3.0, rec.Packet.Samples.At(1, 0))
	assert.Equal(t, 6.0, rec.Packet.Samples.At(2, 1))

	assert.Equal(t, int64(517), rec.RawTimestamp)
	assert.Equal(t, 517.0, rec.Timestamp)
	assert.False(t, rec.Corrected)
	assert.Equal(t, int64(1021), rec.ServerTimestamp)
	assert.Equal(t, "192.168.1.7:8400", rec.SenderID)
}

func TestParseLine_StimulusAlternatingSplit(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	rec, err := p.ParseLine("sts:300 SE ts:250 v[6]:{1,10,2,0,3,10} <-/10.0.0.2:51000")
	require.NoError(t, err)

	require.Equal(t, model.KindStimulus, rec.Kind)
	assert.Equal(t, []int64{1, 2, 3}, rec.Stimulus.ObjectIDs)
	assert.Equal(t, []int64{10, 0, 10}, rec.Stimulus.States)
	assert.Equal(t, "10.0.0.2:51000", rec.SenderID)
}

func TestParseLine_StimulusGroups(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	rec, err := p.ParseLine("SE ts:7 v[2x2]:{1,255}{2,0}")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, rec.Stimulus.ObjectIDs)
	assert.Equal(t, []int64{255, 0}, rec.Stimulus.States)
	assert.Equal(t, model.NoTimestamp, rec.ServerTimestamp)
	assert.Equal(t, model.NoSender, rec.SenderID)
}

func TestParseLine_ModeChange(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	rec, err := p.ParseLine("sts:9000 MC ts:8800 mode:Calibration.supervised <-/127.0.0.1:8400")
	require.NoError(t, err)
	require.Equal(t, model.KindModeChange, rec.Kind)
	assert.Equal(t, "Calibration.supervised", rec.Mode.NewMode)
	assert.Equal(t, int64(8800), rec.RawTimestamp)
	assert.Equal(t, int64(9000), rec.ServerTimestamp)
}

func TestParseLine_Rejections(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	tests := []struct {
		name string
		line string
		want error
	}{
		{name: "empty", line: "", want: ErrNoMarker},
		{name: "unknown kind", line: "sts:1 HB ts:5 <-/1.2.3.4:1", want: ErrNoMarker},
		{name: "marker inside word", line: "sts:1 SEND ts:5 v[2]:{1,2}", want: ErrNoMarker},
		{name: "stimulus without ts", line: "sts:10 SE v[2]:{1,10} <-/1.2.3.4:1", want: ErrMissingTimestamp},
		{name: "data without ts", line: "sts:10 DP v[1x2]:[1,2] <-/1.2.3.4:1", want: ErrMissingTimestamp},
		{name: "mode without ts", line: "MC mode:idle", want: ErrMissingTimestamp},
		{name: "only server stamp", line: "sts:10 DP", want: ErrMissingTimestamp},
		{name: "no shape", line: "DP ts:5 :[1,2]", want: ErrMalformedShape},
		{name: "bad dims", line: "DP ts:5 v[2y3]:[1,2,3,4,5,6]", want: ErrMalformedShape},
		{name: "zero dim", line: "DP ts:5 v[0x3]:[]", want: ErrMalformedShape},
		{name: "shape without colon", line: "DP ts:5 v[1x2] [1,2]", want: ErrMalformedShape},
		{name: "words before shape", line: "DP ts:5 values v[1x2]:[1,2]", want: ErrMalformedShape},
		{name: "three dims", line: "DP ts:5 v[1x1x2]:[1,2]", want: ErrMalformedShape},
		{name: "short payload", line: "DP ts:5 v[2x2]:[1,2,3]", want: ErrMalformedPayload},
		{name: "non numeric sample", line: "DP ts:5 v[1x2]:[1,abc]", want: ErrMalformedPayload},
		{name: "odd stimulus", line: "SE ts:5 v[3]:{1,10,2}", want: ErrMalformedPayload},
		{name: "non integer state", line: "SE ts:5 v[2]:{1,1.5}", want: ErrMalformedPayload},
		{name: "mode missing label", line: "MC ts:5 mode: <-/1.2.3.4:1", want: ErrMissingMode},
		{name: "mode missing token", line: "MC ts:5 idle", want: ErrMissingMode},
		{name: "client stamp overflows", line: "sts:5 MC ts:18446744073709551621 mode:idle", want: ErrMissingTimestamp},
		{name: "negative client stamp overflows", line: "DP ts:-99999999999999999999 v[1x1]:[4]", want: ErrMissingTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParseLine(tt.line)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, model.KindUnknown, rec.Kind)
		})
	}
}

func TestParseLine_Timestamps(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	tests := []struct {
		name       string
		line       string
		wantTS     int64
		wantServer int64
	}{
		{name: "invalid client stamp kept", line: "sts:40 MC ts:-1 mode:idle", wantTS: model.NoTimestamp, wantServer: 40},
		{name: "negative client stamp normalised", line: "sts:40 MC ts:-5 mode:idle", wantTS: model.NoTimestamp, wantServer: 40},
		{name: "server stamp overflows", line: "sts:18446744073709551621 MC ts:5 mode:idle", wantTS: 5, wantServer: model.NoTimestamp},
		{name: "largest stamps", line: "sts:9223372036854775807 MC ts:9223372036854775807 mode:idle", wantTS: 9223372036854775807, wantServer: 9223372036854775807},
		{name: "negative server stamp", line: "sts:-1 MC ts:5 mode:idle", wantTS: 5, wantServer: model.NoTimestamp},
		{name: "server stamp not prefix", line: "MC sts:40 ts:5 mode:idle", wantTS: 5, wantServer: model.NoTimestamp},
		{name: "server stamp glued to word", line: "sts:40x MC ts:5 mode:idle", wantTS: 5, wantServer: model.NoTimestamp},
		{name: "no gap before shape", line: "sts:3 DP ts:12v[1x1]:[4]", wantTS: 12, wantServer: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTS, rec.RawTimestamp)
			assert.Equal(t, tt.wantServer, rec.ServerTimestamp)
			assert.Equal(t, float64(tt.wantTS), rec.Timestamp)
		})
	}
}

func TestParseLine_Sender(t *testing.T) {
	p := NewLineParser(DefaultMarkers())

	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "slash separator", line: "MC ts:1 mode:idle <-/192.168.0.10:8400", want: "192.168.0.10:8400"},
		{name: "space separator", line: "MC ts:1 mode:idle <- 192.168.0.10", want: "192.168.0.10"},
		{name: "ipv6", line: "MC ts:1 mode:idle <-/::1:8400", want: "::1:8400"},
		{name: "not address like", line: "MC ts:1 mode:idle <-/hub", want: model.NoSender},
		{name: "absent", line: "MC ts:1 mode:idle", want: model.NoSender},
		{name: "trailing newline", line: "MC ts:1 mode:idle <-/10.1.1.1:5\r\n", want: "10.1.1.1:5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.SenderID)
			assert.Equal(t, "idle", rec.Mode.NewMode)
		})
	}
}

func TestParseLine_CustomMarkers(t *testing.T) {
	p := NewLineParser(Markers{Stimulus: "StimulusEvent", Data: "DataPacket", Mode: "ModeChange"})

	rec, err := p.ParseLine("sts:5 DataPacket ts:4 v[1x2]:[0.5,1.5] <-/1.1.1.1:1")
	require.NoError(t, err)
	assert.Equal(t, model.KindData, rec.Kind)

	_, err = p.ParseLine("sts:5 DP ts:4 v[1x2]:[0.5,1.5]")
	assert.ErrorIs(t, err, ErrNoMarker)
}
