package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

const (
	PlaylistName   = "stream.m3u8"
	SegmentPattern = "segment_%03d.ts"

	feedBuffer = 512
)

// Job describes one pipeline to launch.
type Job struct {
	RoomID    string
	OutputDir string
	// Video feeds the pipeline over stdin when set; otherwise the launcher's
	// fallback input is used.
	Video engine.Producer
}

// Process is a running pipeline.
type Process interface {
	PID() int
	// Interrupt asks the process to finish its output and exit.
	Interrupt() error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done is closed.
	Err() error
	// Input names what the process reads from.
	Input() string
}

// Launcher spawns pipelines.
type Launcher interface {
	Launch(ctx context.Context, job Job) (Process, error)
}

// FFmpegLauncher runs ffmpeg to produce an HLS playlist per room.
type FFmpegLauncher struct {
	hls    config.HLSConfig
	ffmpeg config.FFmpegConfig
}

func NewFFmpegLauncher(hlsCfg config.HLSConfig, ffmpegCfg config.FFmpegConfig) *FFmpegLauncher {
	return &FFmpegLauncher{hls: hlsCfg, ffmpeg: ffmpegCfg}
}

// inputArgs selects the demuxer for the job's feed.
func (f *FFmpegLauncher) inputArgs(job Job) (args []string, input string, piped bool) {
	if job.Video != nil {
		switch job.Video.Codec().MimeType {
		case webrtc.MimeTypeVP8, webrtc.MimeTypeVP9:
			return []string{"-use_wallclock_as_timestamps", "1", "-fflags", "+genpts", "-f", "ivf", "-i", "pipe:0"}, "producer:" + job.Video.ID(), true
		case webrtc.MimeTypeH264:
			return []string{"-use_wallclock_as_timestamps", "1", "-fflags", "+genpts", "-f", "h264", "-i", "pipe:0"}, "producer:" + job.Video.ID(), true
		}
	}
	in := f.ffmpeg.FallbackInput
	return []string{"-protocol_whitelist", "file,udp,rtp", "-i", in}, in, false
}

// buildVideoArgs builds FFmpeg video encoding arguments based on config.
func (f *FFmpegLauncher) buildVideoArgs() []string {
	args := []string{
		"-c:v", f.ffmpeg.VideoCodec,
		"-preset", f.ffmpeg.VideoPreset,
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
	}
	if f.ffmpeg.VideoBitrate != "" {
		args = append(args, "-b:v", f.ffmpeg.VideoBitrate)
	}

	gop := 30
	if f.ffmpeg.Framerate > 0 {
		gop = f.ffmpeg.Framerate
		args = append(args, "-r", strconv.Itoa(f.ffmpeg.Framerate))
	}
	return append(args, "-g", strconv.Itoa(gop))
}

func (f *FFmpegLauncher) buildHLSArgs(outputDir string) []string {
	args := []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(f.hls.SegmentDuration),
		"-hls_list_size", strconv.Itoa(f.hls.PlaylistSize),
	}
	if f.hls.DeleteSegments {
		args = append(args, "-hls_flags", "delete_segments")
	}
	return append(args,
		"-hls_segment_filename", filepath.Join(outputDir, SegmentPattern),
		filepath.Join(outputDir, PlaylistName),
	)
}

// Args returns the full ffmpeg command line for job, without the binary.
func (f *FFmpegLauncher) Args(job Job) []string {
	in, _, piped := f.inputArgs(job)
	args := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, in...)
	args = append(args, f.buildVideoArgs()...)
	if piped {
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-ar", "48000")
	}
	return append(args, f.buildHLSArgs(job.OutputDir)...)
}

func (f *FFmpegLauncher) Launch(ctx context.Context, job Job) (Process, error) {
	_, input, piped := f.inputArgs(job)
	l := pkglog.L().With().Str(pkglog.FieldRoomID, job.RoomID).Logger()

	cmd := exec.Command(f.ffmpeg.Binary, f.Args(job)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = l

	var stdin io.WriteCloser
	if piped {
		var err error
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &ffmpegProcess{
		cmd:   cmd,
		input: input,
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}

	if piped {
		packets, cancel := job.Video.Subscribe(feedBuffer)
		go func() {
			defer cancel()
			defer stdin.Close()
			if err := writeFeed(job.Video.Codec().MimeType, packets, stdin, p.stop); err != nil {
				l.Debug().Err(err).Msg("pipeline feed ended")
			}
		}()
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	l.Info().Int(pkglog.FieldPID, p.PID()).Str("input", input).Msg("ffmpeg started")
	return p, nil
}

// writeFeed writes packets to w until the channel closes or stop fires.
func writeFeed(mimeType string, packets <-chan *rtp.Packet, w io.Writer, stop <-chan struct{}) error {
	switch mimeType {
	case webrtc.MimeTypeVP8, webrtc.MimeTypeVP9:
		return writeIVF(mimeType, packets, w, stop)
	case webrtc.MimeTypeH264:
		return writeH264(packets, w, stop)
	default:
		return fmt.Errorf("unsupported codec %s", mimeType)
	}
}

func writeIVF(mimeType string, packets <-chan *rtp.Packet, w io.Writer, stop <-chan struct{}) error {
	ivf, err := ivfwriter.NewWith(w, ivfwriter.WithCodec(mimeType))
	if err != nil {
		return fmt.Errorf("failed to create IVF writer: %w", err)
	}
	defer ivf.Close()

	for {
		select {
		case <-stop:
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			if err := ivf.WriteRTP(pkt); err != nil {
				return fmt.Errorf("IVF write: %w", err)
			}
		}
	}
}

// writeH264 depacketizes into an Annex-B byte stream.
func writeH264(packets <-chan *rtp.Packet, w io.Writer, stop <-chan struct{}) error {
	depacketizer := &codecs.H264Packet{}
	for {
		select {
		case <-stop:
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			payload, err := depacketizer.Unmarshal(pkt.Payload)
			if err != nil || len(payload) == 0 {
				continue
			}
			if _, err := w.Write(payload); err != nil {
				return fmt.Errorf("H264 write: %w", err)
			}
		}
	}
}

type ffmpegProcess struct {
	cmd      *exec.Cmd
	input    string
	done     chan struct{}
	err      error
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *ffmpegProcess) PID() int              { return p.cmd.Process.Pid }
func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }
func (p *ffmpegProcess) Input() string         { return p.input }

func (p *ffmpegProcess) Err() error {
	<-p.done
	return p.err
}

// Interrupt ends the feed and sends SIGINT so ffmpeg finalizes the playlist.
func (p *ffmpegProcess) Interrupt() error {
	p.stopOnce.Do(func() { close(p.stop) })
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *ffmpegProcess) Kill() error {
	p.stopOnce.Do(func() { close(p.stop) })
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

var _ Launcher = (*FFmpegLauncher)(nil)
