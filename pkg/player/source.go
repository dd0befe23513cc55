package player

import (
	"fmt"

	"github.com/user/warpplayer/pkg/adapters/codecdetect"
	"github.com/user/warpplayer/pkg/adapters/mp4source"
	"github.com/user/warpplayer/pkg/adapters/tssource"
	"github.com/user/warpplayer/pkg/adapters/y4msource"
	"github.com/user/warpplayer/pkg/ports"
)

// OpenSource sniffs the container at path and opens the matching reader.
// The path "-" reads MPEG-TS from standard input.
func OpenSource(fs ports.FileSystem, path string, log ports.Logger) (ports.Source, codecdetect.Container, error) {
	if path == tssource.StdinPath {
		src, err := tssource.Open(fs, path, log)
		if err != nil {
			return nil, codecdetect.ContainerMPEGTS, err
		}
		return src, codecdetect.ContainerMPEGTS, nil
	}

	container, err := codecdetect.DetectFromFile(fs, path)
	if err != nil {
		return nil, container, err
	}

	var src ports.Source
	switch container {
	case codecdetect.ContainerMP4:
		src, err = mp4source.Open(fs, path, log)
	case codecdetect.ContainerMPEGTS:
		src, err = tssource.Open(fs, path, log)
	case codecdetect.ContainerY4M:
		src, err = y4msource.Open(fs, path, log)
	default:
		return nil, container, fmt.Errorf("%w: %s", codecdetect.ErrUnknownContainer, container)
	}
	if err != nil {
		return nil, container, err
	}
	return src, container, nil
}
