// Account HTTP handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CredentialsRequest is the JSON payload for signup and login.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required,max=256" example:"alice"`
	Password string `json:"password" binding:"required"         example:"correct-horse"`
}

// SignupResponse is the public view of a newly created user.
type SignupResponse struct {
	ID       uint64 `json:"id"       example:"1"`
	Username string `json:"username" example:"alice"`
}

// Signup godoc
// @ID          signup
// @Summary     Create an account
// @Description Registers a username with a password. Usernames are NFC-normalized
// @Description and limited to letters, digits, '_', '-' and '.'.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     201   {object}  handlers.SignupResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid username or weak password"
// @Failure     409   {object}  handlers.ErrorResponse  "Username taken"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /signup [post]
func (h *Handlers) Signup(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	u, err := h.users.Signup(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, SignupResponse{ID: u.ID, Username: u.Username})
}

// Login godoc
// @ID          login
// @Summary     Obtain a session token
// @Description Verifies credentials and returns a bearer token for the REST API
// @Description and the websocket identify event.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     200   {object}  services.Session
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Router      /login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	sess, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// OnlineResponse lists connected usernames in ascending order.
type OnlineResponse struct {
	Online []string `json:"online" example:"alice,bob"`
}

// Online godoc
// @ID          listOnline
// @Summary     List online users
// @Tags        Presence
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.OnlineResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /online [get]
func (h *Handlers) Online(c *gin.Context) {
	online := h.presence.Online()
	if online == nil {
		online = []string{}
	}
	ok(c, http.StatusOK, OnlineResponse{Online: online})
}
