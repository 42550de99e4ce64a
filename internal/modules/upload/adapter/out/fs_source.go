package out

import (
	"fmt"
	"os"

	uploadout "pocus/internal/modules/upload/port/out"
)

type FileSourceOpener struct{}

func NewFileSourceOpener() uploadout.SourceOpener {
	return FileSourceOpener{}
}

type fileSource struct {
	*os.File
	size int64
}

func (f fileSource) Size() int64 { return f.size }

func (FileSourceOpener) Open(path string) (uploadout.Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return fileSource{File: file, size: info.Size()}, nil
}
