package sse

import (
	"bufio"
	"io"
	"strings"
)

// Frame 是读到的一个 SSE 块。只含注释行（如 keepalive）时 Event 和 Data 为空。
type Frame struct {
	Event   string
	Data    string
	Comment string
}

func (f Frame) IsComment() bool { return f.Event == "" && f.Data == "" && f.Comment != "" }

// Reader 从响应体中逐块解析 SSE。
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Reader{sc: sc}
}

// Next 返回下一个完整的块；流结束时未以空行结尾的残块被丢弃并返回 io.EOF。
func (r *Reader) Next() (Frame, error) {
	var (
		f       Frame
		data    []string
		started bool
	)
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if !started {
				continue
			}
			f.Data = strings.Join(data, "\n")
			if f.Event == "" && len(data) > 0 {
				f.Event = "message"
			}
			return f, nil
		}
		started = true
		if strings.HasPrefix(line, ":") {
			f.Comment = strings.TrimPrefix(line, ":")
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
