package main

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blndgs/aaclient"
)

type gateway struct {
	session *aaclient.Session
	invoker *aaclient.Invoker
	log     *zap.Logger
}

type invokeRequest struct {
	Function string   `json:"function" binding:"required"`
	Args     []string `json:"args"`
	// ChainID pins the request to a chain; a session on another chain
	// rejects it.
	ChainID string `json:"chainId" binding:"omitempty,chain_id"`
}

type submittedOp struct {
	UserOpHash common.Hash `json:"userOpHash"`
	Nonce      string      `json:"nonce"`
}

type invokeResponse struct {
	Approval *submittedOp `json:"approval,omitempty"`
	Main     submittedOp  `json:"main"`
}

type accountResponse struct {
	Owner      common.Address  `json:"owner"`
	Account    common.Address  `json:"account"`
	ChainID    string          `json:"chainId"`
	EntryPoint common.Address  `json:"entryPoint"`
	Paymaster  *common.Address `json:"paymaster,omitempty"`
	Deposit    string          `json:"deposit"`
}

func newRouter(session *aaclient.Session, invoker *aaclient.Invoker, log *zap.Logger) *gin.Engine {
	if err := aaclient.NewValidator(); err != nil {
		log.Error("failed to register request validators", zap.Error(err))
	}
	g := &gateway{session: session, invoker: invoker, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), g.logRequests)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/session", g.sessionState)
	v1.GET("/account", g.account)
	v1.POST("/invoke", g.invoke)
	v1.POST("/call", g.call)
	return r
}

func (g *gateway) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	g.log.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
	)
}

func (g *gateway) sessionState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": g.session.State().String()})
}

func (g *gateway) account(c *gin.Context) {
	client := g.session.Client()
	if !client.IsInitialized() {
		g.fail(c, aaclient.ErrNotInitialized)
		return
	}
	deposit, err := client.DepositBalance(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	resp := accountResponse{
		Owner:      client.Owner(),
		Account:    client.SmartAccountAddress(),
		ChainID:    client.ChainID().String(),
		EntryPoint: client.EntryPoint(),
		Deposit:    deposit.String(),
	}
	if pm, ok := client.PaymasterAddress(); ok {
		resp.Paymaster = &pm
	}
	c.JSON(http.StatusOK, resp)
}

// bind decodes the request and returns the ready client and parsed arguments.
func (g *gateway) bind(c *gin.Context) (*invokeRequest, *aaclient.Client, []interface{}, bool) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, nil, false
	}
	method, err := g.invoker.Method(req.Function)
	if err != nil {
		g.fail(c, err)
		return nil, nil, nil, false
	}
	args, err := aaclient.ParseArgs(method, req.Args)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, nil, false
	}

	client := g.session.Client()
	if !client.IsInitialized() {
		g.fail(c, aaclient.ErrNotInitialized)
		return nil, nil, nil, false
	}
	if req.ChainID != "" {
		want, _ := new(big.Int).SetString(req.ChainID, 10)
		if want.Cmp(client.ChainID()) != 0 {
			g.fail(c, aaclient.ErrChainMismatch)
			return nil, nil, nil, false
		}
	}
	return &req, client, args, true
}

func (g *gateway) invoke(c *gin.Context) {
	req, client, args, ok := g.bind(c)
	if !ok {
		return
	}
	result, err := g.invoker.Invoke(c.Request.Context(), client, req.Function, args...)
	if err != nil {
		g.fail(c, err)
		return
	}
	resp := invokeResponse{
		Main: submittedOp{UserOpHash: result.Main.Hash, Nonce: result.Main.Nonce.String()},
	}
	if result.Approval != nil {
		resp.Approval = &submittedOp{UserOpHash: result.Approval.Hash, Nonce: result.Approval.Nonce.String()}
	}
	c.JSON(http.StatusOK, resp)
}

func (g *gateway) call(c *gin.Context) {
	req, client, args, ok := g.bind(c)
	if !ok {
		return
	}
	out, err := g.invoker.Call(c.Request.Context(), client, req.Function, args...)
	if err != nil {
		g.fail(c, err)
		return
	}
	result := make([]interface{}, len(out))
	for i, v := range out {
		// Big integers travel as decimal strings.
		if b, ok := v.(*big.Int); ok {
			result[i] = b.String()
			continue
		}
		result[i] = v
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (g *gateway) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		g.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": aaclient.ErrorMessage(err)})
}

func statusFor(err error) int {
	var (
		revertErr    *aaclient.RevertError
		transportErr *aaclient.TransportError
	)
	switch {
	case errors.Is(err, aaclient.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, aaclient.ErrUnknownFunction):
		return http.StatusNotFound
	case errors.Is(err, aaclient.ErrChainMismatch), errors.Is(err, aaclient.ErrUnknownChain):
		return http.StatusConflict
	case errors.As(err, &revertErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
