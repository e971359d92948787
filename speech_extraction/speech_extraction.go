package speech_extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"jarvis-bridge/ring_buffer"
	"jarvis-bridge/speech_extraction/vad"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

const (
	defaultSampleRate = 16000
	defaultFrameSize  = 1600
	defaultQuietTime  = time.Millisecond * 200
	preRollFrames     = 3
)

type voiceImpl struct {
	fileSys    afero.Fs
	recordDir  string
	sampleRate int
	frameSize  int
	quietTime  time.Duration
	log        zerolog.Logger

	mu           sync.Mutex
	audioRunning bool
}

type Config struct {
	// FileSys and RecordDir are optional. When both are set every capture is
	// also saved as a WAV file.
	FileSys    afero.Fs
	RecordDir  string
	SampleRate int
	FrameSize  int
	QuietTime  time.Duration
	Logger     zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.RecordDir != "" && cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	v := &voiceImpl{
		fileSys:    cfg.FileSys,
		recordDir:  cfg.RecordDir,
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
		quietTime:  cfg.QuietTime,
		log:        cfg.Logger,
	}

	if v.sampleRate <= 0 {
		v.sampleRate = defaultSampleRate
	}

	if v.frameSize <= 0 {
		v.frameSize = defaultFrameSize
	}

	if v.quietTime <= 0 {
		v.quietTime = defaultQuietTime
	}

	if v.recordDir != "" {
		if err := v.fileSys.MkdirAll(v.recordDir, 0o755); err != nil {
			return nil, fmt.Errorf("create record dir: %w", err)
		}
	}

	if err := v.initAudio(); err != nil {
		return nil, err
	}

	return v, nil
}

func (v *voiceImpl) initAudio() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.audioRunning {
		err := portaudio.Initialize()
		if err != nil {
			return fmt.Errorf("init audio: %w", err)
		}

		v.audioRunning = true
	}

	return nil
}

func (v *voiceImpl) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.audioRunning {
		return nil
	}

	v.audioRunning = false

	return portaudio.Terminate()
}

func (v *voiceImpl) Capture(ctx context.Context, wait, limit time.Duration) (*audio.IntBuffer, error) {
	samples, err := v.listenIntoBuffer(ctx, wait, limit)
	if err != nil {
		return nil, err
	}

	if v.recordDir != "" {
		if err := v.record(samples); err != nil {
			v.log.Warn().Err(err).Msg("could not save recording")
		}
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  v.sampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}, nil
}

func (v *voiceImpl) listenIntoBuffer(ctx context.Context, wait, limit time.Duration) ([]int16, error) {
	in := make([]int16, v.frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(v.sampleRate), len(in), in)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	defer stream.Close()

	err = stream.Start()
	if err != nil {
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	defer func() {
		if err := stream.Stop(); err != nil {
			v.log.Debug().Err(err).Msg("stop input stream")
		}
	}()

	var (
		detector    = vad.New(len(in))
		gate        = vad.NewGate(vad.DefaultRatio, v.quietTime)
		preRoll     = ring_buffer.New(v.frameSize * preRollFrames)
		samples     []int16
		started     = time.Now()
		speechStart time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err = stream.Read()
		if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("read input stream: %w", err)
		}

		now := time.Now()
		event := gate.Update(detector.Flux(in), now)

		if !gate.Heard() {
			// keep the audio just before detection, or the first word gets clipped
			preRoll.Add(in)

			if wait > 0 && now.Sub(started) > wait {
				return nil, ErrNoSpeech
			}

			continue
		}

		if event == vad.SpeechStart {
			speechStart = now
			samples = append(samples, preRoll.Read()...)
		}

		samples = append(samples, in...)

		if event == vad.SpeechEnd {
			break
		}

		if limit > 0 && now.Sub(speechStart) > limit {
			v.log.Debug().Dur("limit", limit).Msg("phrase limit reached")

			break
		}
	}

	return samples, nil
}

func (v *voiceImpl) record(samples []int16) error {
	name := filepath.Join(v.recordDir, "utterance"+strconv.FormatInt(time.Now().UnixNano(), 10)+".wav")

	waveFile, err := v.fileSys.Create(name)
	if err != nil {
		return err
	}

	waveWriter, err := wave.NewWriter(wave.WriterParam{
		Out:           waveFile,
		Channel:       1,
		SampleRate:    v.sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		_ = waveFile.Close()

		return err
	}

	_, err = waveWriter.WriteSample16(samples)
	if err != nil {
		_ = waveWriter.Close()

		return err
	}

	v.log.Debug().Str("file", name).Msg("saved recording")

	return waveWriter.Close()
}
