package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	streamID = "warpcall"

	oggPageDuration = 20 * time.Millisecond
	opusClockRate   = 48000
)

// Constraints selects which kinds of local media to capture.
type Constraints struct {
	Video bool
	Audio bool
}

// MediaSource produces local media for a call.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (*LocalMedia, error)
}

// DeviceLock guards the capture devices. Only one LocalMedia may hold it.
type DeviceLock struct {
	held atomic.Bool
}

// Devices is the process-wide capture lock.
var Devices = &DeviceLock{}

// TryAcquire takes the lock if it is free.
func (d *DeviceLock) TryAcquire() bool {
	return d.held.CompareAndSwap(false, true)
}

func (d *DeviceLock) Release() {
	d.held.Store(false)
}

// Held reports whether some capture currently owns the devices.
func (d *DeviceLock) Held() bool {
	return d.held.Load()
}

// LocalMedia is an acquired capture: zero or one video and audio track plus
// the goroutines feeding them.
type LocalMedia struct {
	Video *webrtc.TrackLocalStaticSample
	Audio *webrtc.TrackLocalStaticSample

	videoOn atomic.Bool
	audioOn atomic.Bool

	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	released atomic.Bool
	unlock   func()
}

func newLocalMedia(unlock func()) *LocalMedia {
	l := &LocalMedia{stop: make(chan struct{}), unlock: unlock}
	l.videoOn.Store(true)
	l.audioOn.Store(true)
	return l
}

func (l *LocalMedia) SetVideoEnabled(enabled bool) { l.videoOn.Store(enabled) }
func (l *LocalMedia) SetAudioEnabled(enabled bool) { l.audioOn.Store(enabled) }
func (l *LocalMedia) VideoEnabled() bool          { return l.videoOn.Load() }
func (l *LocalMedia) AudioEnabled() bool          { return l.audioOn.Load() }

// Released reports whether Release has run.
func (l *LocalMedia) Released() bool {
	return l.released.Load()
}

// Release stops every pump and frees the devices. Only the first call has
// any effect.
func (l *LocalMedia) Release() {
	l.once.Do(func() {
		close(l.stop)
		l.wg.Wait()
		if l.unlock != nil {
			l.unlock()
		}
		l.released.Store(true)
	})
}

func (l *LocalMedia) pump(fn func(stop <-chan struct{})) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn(l.stop)
	}()
}

// ReceiveOnlySource captures nothing. The transport still negotiates
// receive-only video and audio so the peer's media arrives.
type ReceiveOnlySource struct{}

func (ReceiveOnlySource) Acquire(ctx context.Context, _ Constraints) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newLocalMedia(nil), nil
}

// FileSource plays an IVF file as the camera and an Ogg/Opus file as the
// microphone, looping both.
type FileSource struct {
	VideoPath string
	AudioPath string
	Lock      *DeviceLock
	logger    *slog.Logger
}

func NewFileSource(videoPath, audioPath string, lock *DeviceLock, logger *slog.Logger) *FileSource {
	if lock == nil {
		lock = Devices
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		VideoPath: videoPath,
		AudioPath: audioPath,
		Lock:      lock,
		logger:    logger,
	}
}

func (f *FileSource) Acquire(ctx context.Context, c Constraints) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.Lock.TryAcquire() {
		return nil, call.WrapError("acquire media", call.ErrMediaUnavailable, "capture devices busy")
	}

	lm := newLocalMedia(f.Lock.Release)
	ok := false
	defer func() {
		if !ok {
			lm.Release()
		}
	}()

	if c.Video && f.VideoPath != "" {
		if err := f.openVideo(lm); err != nil {
			return nil, call.WrapError("acquire video", call.ErrMediaUnavailable, err.Error())
		}
	}
	if c.Audio && f.AudioPath != "" {
		if err := f.openAudio(lm); err != nil {
			return nil, call.WrapError("acquire audio", call.ErrMediaUnavailable, err.Error())
		}
	}

	ok = true
	return lm, nil
}

func videoMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported video codec %q", fourCC)
	}
}

func (f *FileSource) openVideo(lm *LocalMedia) error {
	file, err := os.Open(f.VideoPath)
	if err != nil {
		return err
	}
	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return err
	}
	mime, err := videoMimeType(header.FourCC)
	if err != nil {
		file.Close()
		return err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
	if err != nil {
		file.Close()
		return err
	}
	lm.Video = track

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	lm.pump(func(stop <-chan struct{}) {
		defer func() { file.Close() }()

		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				if _, err = file.Seek(0, io.SeekStart); err == nil {
					reader, _, err = ivfreader.NewWith(file)
				}
				if err != nil {
					f.logger.Warn("video source stopped", "error", err)
					return
				}
				continue
			}
			if err != nil {
				f.logger.Warn("video source stopped", "error", err)
				return
			}
			if !lm.VideoEnabled() {
				continue
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
				f.logger.Debug("video sample dropped", "error", err)
			}
		}
	})
	return nil
}

func (f *FileSource) openAudio(lm *LocalMedia) error {
	file, err := os.Open(f.AudioPath)
	if err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		file.Close()
		return err
	}
	lm.Audio = track

	lm.pump(func(stop <-chan struct{}) {
		defer func() { file.Close() }()

		ticker := time.NewTicker(oggPageDuration)
		defer ticker.Stop()

		var lastGranule uint64
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			page, header, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if _, err = file.Seek(0, io.SeekStart); err == nil {
					reader, _, err = oggreader.NewWith(file)
				}
				if err != nil {
					f.logger.Warn("audio source stopped", "error", err)
					return
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				f.logger.Warn("audio source stopped", "error", err)
				return
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			if !lm.AudioEnabled() {
				continue
			}
			duration := time.Duration(float64(samples) / opusClockRate * float64(time.Second))
			if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				f.logger.Debug("audio sample dropped", "error", err)
			}
		}
	})
	return nil
}
