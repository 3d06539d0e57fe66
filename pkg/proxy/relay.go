package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultTimeout 默认的单次转发超时时间
const DefaultTimeout = 30 * time.Second

// maxMultipartMemory 解析上传表单时保存在内存中的上限，超出部分写入临时文件
const maxMultipartMemory = 32 << 20

// hopHeaders 逐跳头部，不向下游或客户端转发
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Response 下游响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RelayOption 转发器可选配置
type RelayOption func(*Relay)

// WithTimeout 设置单次转发超时时间
func WithTimeout(timeout time.Duration) RelayOption {
	return func(r *Relay) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithHTTPClient 替换出站HTTP客户端
func WithHTTPClient(client *http.Client) RelayOption {
	return func(r *Relay) {
		r.client = client
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger config.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Relay 将入站请求转发到解析得到的下游服务，每个请求最多发起一次出站调用
type Relay struct {
	resolver Resolver
	client   *http.Client
	timeout  time.Duration
	logger   config.Logger
	metrics  *metrics.Metrics
}

// NewRelay 创建转发器
func NewRelay(resolver Resolver, opts ...RelayOption) *Relay {
	r := &Relay{
		resolver: resolver,
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			// 重定向原样返回给调用方
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: DefaultTimeout,
		logger:  config.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Forward 解析service并将req转发到下游的path
func (r *Relay) Forward(ctx context.Context, req *http.Request, service, path string) (*Response, error) {
	start := time.Now()

	target, err := r.resolver.Resolve(ctx, service)
	if err != nil {
		r.recordFailure(service, "", err, start)
		return nil, err
	}

	outURL := target.URL(path)
	if req.URL != nil && req.URL.RawQuery != "" {
		outURL += "?" + req.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.buildRequest(ctx, req, outURL)
	if err != nil {
		rerr := &RelayError{Kind: KindInternal, Service: service, URL: outURL, Err: err}
		r.recordFailure(service, outURL, rerr, start)
		return nil, rerr
	}

	resp, err := r.client.Do(out)
	if err != nil {
		rerr := &RelayError{Kind: classify(err), Service: service, URL: outURL, Err: err}
		r.recordFailure(service, outURL, rerr, start)
		return nil, rerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rerr := &RelayError{Kind: classify(err), Service: service, URL: outURL, Err: fmt.Errorf("读取下游响应失败: %w", err)}
		r.recordFailure(service, outURL, rerr, start)
		return nil, rerr
	}

	r.metrics.RecordProxy(service, req.Method, resp.StatusCode, time.Since(start))
	r.logger.Debug("请求转发完成",
		zap.String("service", service),
		zap.String("method", req.Method),
		zap.String("url", outURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	return wrapResponse(resp, body), nil
}

// buildRequest 构造出站请求：保留方法与头部，透传请求体，上传表单重新编码
func (r *Relay) buildRequest(ctx context.Context, req *http.Request, outURL string) (*http.Request, error) {
	header := cloneHeader(req.Header)
	header.Del("Host")

	var body io.Reader = http.NoBody
	if isMultipart(req.Header.Get("Content-Type")) {
		buf, contentType, err := rebuildMultipart(req)
		if err != nil {
			return nil, err
		}
		body = buf
		header.Set("Content-Type", contentType)
	} else if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("读取请求体失败: %w", err)
		}
		if len(raw) > 0 {
			body = bytes.NewReader(raw)
		}
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, outURL, body)
	if err != nil {
		return nil, fmt.Errorf("创建下游请求失败: %w", err)
	}
	out.Header = header
	return out, nil
}

// isMultipart 判断是否为文件上传表单
func isMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "multipart/form-data"
}

// rebuildMultipart 解析上传表单，将文件与普通字段写入新的multipart请求体
func rebuildMultipart(req *http.Request) (*bytes.Buffer, string, error) {
	if err := req.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, "", fmt.Errorf("解析上传表单失败: %w", err)
	}
	form := req.MultipartForm
	defer form.RemoveAll()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, key := range sortedKeys(form.Value) {
		for _, value := range form.Value[key] {
			if err := w.WriteField(key, value); err != nil {
				return nil, "", fmt.Errorf("写入表单字段失败: %w", err)
			}
		}
	}

	for _, key := range sortedKeys(form.File) {
		for _, fh := range form.File[key] {
			if err := copyFilePart(w, key, fh); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("生成上传表单失败: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func copyFilePart(w *multipart.Writer, field string, fh *multipart.FileHeader) error {
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     field,
		"filename": fh.Filename,
	}))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("写入上传文件失败: %w", err)
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("复制上传文件失败: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// wrapResponse 保留下游状态码，JSON响应体重新序列化，缺少Content-Type时补充application/json
func wrapResponse(resp *http.Response, body []byte) *Response {
	header := cloneHeader(resp.Header)
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json") && resp.Header.Get("Content-Encoding") == "" {
		if normalized, ok := reencodeJSON(body); ok {
			body = normalized
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}
}

// reencodeJSON 解析并重新序列化JSON，无法解析时返回false
func reencodeJSON(body []byte) ([]byte, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, false
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), true
}

// cloneHeader 复制头部并去掉Content-Length与逐跳头部
func cloneHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}

	// Connection中列出的头部同样是逐跳的
	for _, value := range src.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		dst.Del(name)
	}
	dst.Del("Content-Length")
	return dst
}

func (r *Relay) recordFailure(service, url string, err error, start time.Time) {
	kind := KindOf(err)
	r.metrics.RecordProxyFailure(service, string(kind), time.Since(start))

	fields := []zap.Field{
		zap.String("service", service),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if url != "" {
		fields = append(fields, zap.String("url", url))
	}

	switch kind {
	case KindNotFound, KindUnavailable:
		r.logger.Warn("无法解析转发目标", fields...)
	default:
		r.logger.Error("请求转发失败", fields...)
	}
}
