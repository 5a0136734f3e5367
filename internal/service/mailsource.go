package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/langchou/evreceipts/internal/models"
)

// MailSource 邮件来源，IMAP 等传输层在外部实现
type MailSource interface {
	Fetch(ctx context.Context) ([]models.Document, error)
}

// DirSource 读取目录下的 .eml 文件
type DirSource struct {
	dir    string
	logger *zap.Logger
}

// NewDirSource 创建目录邮件源
func NewDirSource(dir string, logger *zap.Logger) *DirSource {
	return &DirSource{dir: dir, logger: logger}
}

// Fetch 按文件名顺序读取全部邮件，单个文件解析失败只跳过该文件
func (s *DirSource) Fetch(ctx context.Context) ([]models.Document, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return nil, fmt.Errorf("open mail dir: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.eml"))
	if err != nil {
		return nil, fmt.Errorf("list mail dir: %w", err)
	}
	sort.Strings(paths)

	docs := make([]models.Document, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		doc, err := ReadEML(p)
		if err != nil {
			s.logger.Warn("Skipping unreadable mail", zap.String("file", p), zap.Error(err))
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// ReadEML 读取单个 .eml 文件
func ReadEML(path string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseMessage(f)
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// ParseMessage 解析 RFC 5322 邮件：纯文本正文与 .csv 附件
func ParseMessage(r io.Reader) (*models.Document, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	doc := &models.Document{}
	doc.Subject = decodeHeader(msg.Header.Get("Subject"))
	doc.From = decodeHeader(msg.Header.Get("From"))
	if t, err := msg.Header.Date(); err == nil {
		doc.Date = &t
	}

	if err := walkPart(doc, msg.Header, msg.Body); err != nil {
		return nil, err
	}

	doc.ID = strings.TrimSpace(msg.Header.Get("Message-Id"))
	if doc.ID == "" {
		date := ""
		if doc.Date != nil {
			date = doc.Date.String()
		}
		sum := md5.Sum([]byte(doc.Subject + doc.From + date))
		doc.ID = "generated-" + hex.EncodeToString(sum[:])
	}
	return doc, nil
}

type partHeader interface {
	Get(key string) string
}

// walkPart 深度优先遍历 MIME 结构，取第一个 text/plain 作为正文
func walkPart(doc *models.Document, h partHeader, body io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read multipart: %w", err)
			}
			if err := walkPart(doc, part.Header, part); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransfer(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return fmt.Errorf("read part: %w", err)
	}

	disposition, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	filename := dparams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	filename = decodeHeader(filename)

	if disposition == "attachment" || filename != "" {
		att := models.Attachment{Filename: filename, ContentType: mediaType, Data: data}
		if att.IsCSV() {
			doc.Attachments = append(doc.Attachments, att)
		}
		return nil
	}

	if mediaType == "text/plain" && doc.Body == "" {
		doc.Body = decodeCharset(params["charset"], data)
	}
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// newlineStripper 去掉 base64 正文中的换行
type newlineStripper struct {
	r io.Reader
}

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		out := p[:0]
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				out = append(out, b)
			}
		}
		if len(out) > 0 || err != nil {
			return len(out), err
		}
	}
}

func decodeHeader(s string) string {
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %s: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func decodeCharset(charset string, data []byte) string {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
		return string(data)
	}
	r, err := charsetReader(charset, bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	return string(out)
}
