package http

const (
	DefaultMaxPipelinedRequests = 16
	DefaultReadBufferSize       = 4096
	DefaultMaxHeaderBytes       = 8 << 10
	DefaultMaxBodyBytes         = 2 << 20

	// TimeFormat is the format of Date and Last-Modified header values.
	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

	instrumentationName = "github.com/freekieb7/causeway/http"
)

// Handler serves a single request. The response is sent when the handler
// returns unless the handler called RequestCtx.Detach.
type Handler func(ctx *RequestCtx)

var (
	protocolHTTP10 = "HTTP/1.0"
	protocolHTTP11 = "HTTP/1.1"

	// Pre-computed header lines
	headerConnectionClose     = []byte("Connection: close\r\n")
	headerConnectionKeepAlive = []byte("Connection: keep-alive\r\n")
	headerChunked             = []byte("Transfer-Encoding: chunked\r\n")
	headerContentLength       = []byte("Content-Length: ")
	headerDate                = []byte("Date: ")
	headerServer              = []byte("Server: ")

	crlf           = []byte("\r\n")
	chunkEndBytes  = []byte("0\r\n\r\n") // Final chunk
	headerNameSep  = []byte(": ")
	statusLineHTTP = []byte("HTTP/1.1 ")
)
