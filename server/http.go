package server

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/zuid/idtype"
	"github.com/zfair/zuid/internal/metrics"
	"github.com/zfair/zuid/internal/provider/storage"
	"github.com/zfair/zuid/zerrors"
)

const requestIDHeader = "X-Request-ID"

type AllocateRequest struct {
	Name  string  `json:"name"`
	Start *uint64 `json:"start,omitempty"`
	Type  string  `json:"type,omitempty"`
}

type RecordResponse struct {
	Registry string `json:"registry"`
	Name     string `json:"name"`
	ID       uint64 `json:"id"`
	Type     string `json:"type,omitempty"`
	Created  bool   `json:"created"`
}

type SequenceResponse struct {
	Provider string `json:"provider"`
	ID       uint64 `json:"id"`
}

type httpServer struct {
	server       *Server
	addr         string
	router       *gin.Engine
	httpListener *http.Server
}

func newHTTPServer(
	server *Server,
) *httpServer {
	s := &httpServer{
		server: server,
	}

	router := gin.New()
	router.Use(s.requestID)
	router.Use(ginzap.Ginzap(server.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(server.logger, true))

	s.RegisterAPIV1Restful(router)
	router.GET("metrics", gin.WrapH(server.metrics.Handler()))
	s.router = router

	s.addr = server.getCfg().HTTPAddress
	s.httpListener = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	return s
}

func (s *httpServer) RegisterAPIV1Restful(
	router *gin.Engine,
) {
	v1 := router.Group("v1")
	v1.GET("info", s.InfoV1)
	v1.POST("ids", s.AllocateV1)
	v1.POST("registries/:registry/ids", s.AllocateV1)
	v1.GET("registries/:registry/ids", s.ListV1)
	v1.GET("registries/:registry/ids/:name", s.LookupV1)
	v1.POST("sequence", s.SequenceV1)
	v1.GET("records", s.QueryRecordsV1)
}

func (s *httpServer) requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Header(requestIDHeader, id)
	c.Set("requestID", id)

	s.server.incRequests()
	defer s.server.decRequests()
	c.Next()
}

// registryPath maps a registry name from the URL onto a file in the
// registry directory. Names that would leave the directory are rejected.
func (s *httpServer) registryPath(name string) (string, string, error) {
	cfg := s.server.getCfg()
	if name == "" {
		name = cfg.DefaultRegistry
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", "", errors.Wrapf(zerrors.ErrInvalidRegistry, "%q", name)
	}
	return name, filepath.Join(cfg.RegistryDir, name), nil
}

func (s *httpServer) InfoV1(c *gin.Context) {
	storageName := ""
	if s.server.storage != nil {
		storageName = s.server.storage.Name()
	}
	c.JSON(http.StatusOK, gin.H{
		"instanceID": s.server.instanceID,
		"uptime":     time.Since(s.server.startTime).String(),
		"requests":   s.server.requestsInFlight(),
		"sequencer":  s.server.sequencer.Name(),
		"storage":    storageName,
	})
}

func (s *httpServer) AllocateV1(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name, path, err := s.registryPath(c.Param("registry"))
	if err != nil {
		s.abort(c, err)
		return
	}

	cfg := s.server.getCfg()
	typeName := req.Type
	if typeName == "" {
		typeName = cfg.DefaultIDType
	}
	typ, err := idtype.Parse(typeName)
	if err != nil {
		s.abort(c, err)
		return
	}
	start := cfg.DefaultStart
	if req.Start != nil {
		start = *req.Start
	}

	began := time.Now()
	res, err := s.server.allocator.Allocate(c.Request.Context(), path, req.Name, start)
	if err != nil {
		s.server.metrics.ObserveAllocation(name, metrics.FailResultLabel, time.Since(began))
		s.abort(c, err)
		return
	}
	result := metrics.FoundResultLabel
	if res.Created {
		result = metrics.CreatedResultLabel
		s.mirror(c.Request.Context(), name, req.Name, res.ID)
	}
	s.server.metrics.ObserveAllocation(name, result, time.Since(began))

	// The record is durable at this point even if the caller's type is too
	// narrow for it.
	if _, err := typ.Narrow(res.ID); err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, RecordResponse{
		Registry: name,
		Name:     req.Name,
		ID:       res.ID,
		Type:     typ.Name,
		Created:  res.Created,
	})
}

func (s *httpServer) mirror(ctx context.Context, registryName, name string, id uint64) {
	st := s.server.storage
	if st == nil {
		return
	}
	err := st.StoreRecord(ctx, &storage.Record{
		Registry:  registryName,
		Name:      name,
		ID:        id,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.server.metrics.ObserveStorageFailure(st.Name())
		s.server.logger.Warn(
			"Record mirror failed",
			zap.String("provider", st.Name()),
			zap.String("registry", registryName),
			zap.String("name", name),
			zap.Error(err),
		)
	}
}

func (s *httpServer) LookupV1(c *gin.Context) {
	name, path, err := s.registryPath(c.Param("registry"))
	if err != nil {
		s.abort(c, err)
		return
	}
	recordName := c.Param("name")
	id, ok, err := s.server.allocator.Lookup(path, recordName)
	if err != nil {
		s.abort(c, err)
		return
	}
	if !ok {
		s.abort(c, errors.Wrapf(zerrors.ErrRecordNotFound, "%s in %s", recordName, name))
		return
	}
	c.JSON(http.StatusOK, RecordResponse{
		Registry: name,
		Name:     recordName,
		ID:       id,
	})
}

func (s *httpServer) ListV1(c *gin.Context) {
	name, path, err := s.registryPath(c.Param("registry"))
	if err != nil {
		s.abort(c, err)
		return
	}
	records, err := s.server.allocator.Records(path)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"registry": name,
		"records":  records,
	})
}

func (s *httpServer) SequenceV1(c *gin.Context) {
	seq := s.server.sequencer
	id, err := seq.NextID(c.Request.Context())
	s.server.metrics.ObserveSequence(seq.Name(), err)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, SequenceResponse{Provider: seq.Name(), ID: id})
}

func (s *httpServer) QueryRecordsV1(c *gin.Context) {
	st := s.server.storage
	if st == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no record storage configured"})
		return
	}
	opts := storage.QueryOptions{
		Registry: c.Query("registry"),
		Name:     c.Query("name"),
	}
	var err error
	if opts.Limit, err = queryUint(c, "limit"); err == nil {
		opts.Offset, err = queryUint(c, "offset")
	}
	if err == nil {
		opts.From, err = queryTime(c, "from")
	}
	if err == nil {
		opts.Until, err = queryTime(c, "until")
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := st.QueryRecords(c.Request.Context(), opts)
	if err != nil {
		s.abort(c, err)
		return
	}
	if records == nil {
		records = []*storage.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func queryUint(c *gin.Context, key string) (uint64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, errors.Wrapf(err, "invalid %s", key)
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, errors.Wrapf(err, "invalid %s", key)
}

func (s *httpServer) abort(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.server.logger.Error(
			"Request failed",
			zap.String("path", c.FullPath()),
			zap.String("requestID", c.GetString("requestID")),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func errorStatus(err error) int {
	var narrowing *zerrors.NarrowingError
	switch {
	case errors.Is(err, zerrors.ErrInvalidName),
		errors.Is(err, zerrors.ErrInvalidRegistry),
		errors.Is(err, zerrors.ErrUnknownIDType):
		return http.StatusBadRequest
	case errors.Is(err, zerrors.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, zerrors.ErrIDSpaceExhausted):
		return http.StatusConflict
	case errors.As(err, &narrowing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *httpServer) CloseAll() error {
	return s.httpListener.Close()
}

func HTTPServer(listener net.Listener, s *httpServer, logger *zap.Logger) error {
	logger.Info(
		"HTTPServer listening",
		zap.String("addr", listener.Addr().String()),
	)
	err := s.httpListener.Serve(listener)
	if err != nil {
		if err == http.ErrServerClosed {
			logger.Info(
				"HTTPServer closing",
				zap.String("addr", listener.Addr().String()),
			)
		} else {
			logger.Error(
				"Server closed unexpect",
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}
