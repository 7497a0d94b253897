package pgwire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pgkv/internal/auth"
	"pgkv/internal/config"
	"pgkv/internal/engine"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/session"
	"pgkv/internal/telemetry"
	"pgkv/internal/value"
)

// preparedStatement is what Parse registers; Bind attaches parameter
// values to it to form a portal, and Execute runs the portal.
type preparedStatement struct {
	Query string
}

type portal struct {
	stmtName string
	params   [][]byte
}

// Conn serves one client connection end to end: startup, auth, then the
// Simple/Extended query loop, until the client disconnects or sends
// Terminate.
type Conn struct {
	netConn net.Conn
	r       *reader
	w       *writer
	log     *zap.Logger

	engine *engine.Engine
	cfg    config.Config

	sess *session.Session

	statements map[string]preparedStatement
	portals    map[string]portal
}

// Serve drives one connection's lifecycle. It never panics: every error
// is logged and the connection is closed, per spec §5's fatal invariant
// that a single bad connection cannot take down the server.
func Serve(ctx context.Context, nc net.Conn, eng *engine.Engine, cfg config.Config, log *zap.Logger) {
	c := &Conn{
		netConn:    nc,
		r:          newReader(nc),
		w:          newWriter(nc),
		log:        log,
		engine:     eng,
		cfg:        cfg,
		statements: make(map[string]preparedStatement),
		portals:    make(map[string]portal),
	}
	defer nc.Close()
	if err := c.run(ctx); err != nil && err != io.EOF {
		c.log.Debug("connection closed", zap.Error(err))
	}
}

func (c *Conn) run(ctx context.Context) error {
	user, keyspace, err := c.handshake(ctx)
	if err != nil {
		return err
	}
	ns := namespaceFor(keyspace, c.cfg.Namespace)
	c.sess = session.New(c.engine.KV, ns, user, keyspace)
	c.log = telemetry.Session(c.log, 0, user, keyspace)
	defer c.sess.Close(ctx)

	if err := c.w.write(msgParameterStatus, (&msgBuilder{}).cstring("server_version").cstring("14.0").buf); err != nil {
		return err
	}
	if err := c.sendReadyForQuery(); err != nil {
		return err
	}

	for {
		msg, err := c.r.readMessage()
		if err != nil {
			return err
		}
		if err := c.dispatch(ctx, msg); err != nil {
			if err == errTerminate {
				return nil
			}
			return err
		}
	}
}

var errTerminate = fmt.Errorf("pgwire: client requested termination")

// handshake reads the startup packet, authenticates, and returns the
// resolved (user, keyspace) per spec §6's username routing.
func (c *Conn) handshake(ctx context.Context) (user, keyspace string, err error) {
	for {
		code, body, err := c.r.readStartup()
		if err != nil {
			return "", "", err
		}
		const sslRequestCode = 80877103
		const gssRequestCode = 80877104
		if code == sslRequestCode || code == gssRequestCode {
			if _, err := c.netConn.Write([]byte{'N'}); err != nil {
				return "", "", err
			}
			continue
		}
		params := parseStartupParams(body)
		rawUser := params["user"]
		keyspace, user = config.SplitUsername(rawUser, c.cfg.Keyspace)

		if err := c.w.write(msgAuthentication, (&msgBuilder{}).int32(authCleartextPasswd).buf); err != nil {
			return "", "", err
		}
		if err := c.w.flush(); err != nil {
			return "", "", err
		}
		pwMsg, err := c.r.readMessage()
		if err != nil {
			return "", "", err
		}
		if pwMsg.Type != msgPassword {
			return "", "", fmt.Errorf("pgwire: expected password message, got %q", pwMsg.Type)
		}
		password := cstring(pwMsg.Body)

		ns := namespaceFor(keyspace, c.cfg.Namespace)
		txn, err := c.engine.KV.Begin(ctx)
		if err != nil {
			return "", "", err
		}
		authErr := func() error {
			mgr := auth.NewManager(ns, txn)
			if err := mgr.EnsureBootstrapAdmin(ctx); err != nil {
				return err
			}
			_, err := mgr.Authenticate(ctx, user, password, c.cfg.DebugPassword)
			return err
		}()
		if authErr != nil {
			_ = txn.Rollback(ctx)
		} else {
			authErr = txn.Commit(ctx)
		}
		if authErr != nil {
			if werr := c.sendError(authErr); werr != nil {
				return "", "", werr
			}
			if werr := c.w.flush(); werr != nil {
				return "", "", werr
			}
			return "", "", authErr
		}
		if err := c.w.write(msgAuthentication, (&msgBuilder{}).int32(authOK).buf); err != nil {
			return "", "", err
		}
		return user, keyspace, nil
	}
}

// namespaceFor folds the routed keyspace and the configured extra
// namespace prefix into the single intra-keyspace prefix
// keycodec.Namespace applies; the kvstore.KV facade this server is
// configured with is assumed already scoped to one keyspace's backing
// store (spec §4.1's KS_PREFIX), so keyspace routing here only affects
// key naming, not which physical store a statement talks to.
func namespaceFor(keyspace, namespace string) keycodec.Namespace {
	name := keyspace
	if namespace != "" {
		name += "_" + namespace
	}
	return keycodec.Namespace{Name: name}
}

func parseStartupParams(body []byte) map[string]string {
	out := make(map[string]string)
	parts := bytes.Split(bytes.TrimRight(body, "\x00"), []byte{0})
	for i := 0; i+1 < len(parts); i += 2 {
		out[string(parts[i])] = string(parts[i+1])
	}
	return out
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func (c *Conn) dispatch(ctx context.Context, msg message) error {
	switch msg.Type {
	case msgTerminate:
		return errTerminate
	case msgQuery:
		return c.handleSimpleQuery(ctx, cstring(msg.Body))
	case msgParse:
		return c.handleParse(msg.Body)
	case msgBind:
		return c.handleBind(msg.Body)
	case msgDescribe:
		return c.handleDescribe(ctx, msg.Body)
	case msgExecute:
		return c.handleExecute(ctx, msg.Body)
	case msgClose:
		return c.handleClose(msg.Body)
	case msgSync:
		return c.sendReadyForQuery()
	case msgFlush:
		return c.w.flush()
	case msgCopyData, msgCopyDone, msgCopyFail:
		// Only reachable if a client pushes COPY frames without the server
		// having requested them (handleSimpleQuery drives COPY FROM
		// STDIN itself once it sees a CopyInResponse is needed).
		return nil
	default:
		return c.sendError(errs.New(errs.SyntaxError, "unsupported frontend message %q", msg.Type))
	}
}

// handleSimpleQuery runs one or more ';'-separated statements from a
// Simple Query message, sending a RowDescription/DataRow*/CommandComplete
// (or CopyInResponse for COPY FROM STDIN) per statement, then a single
// ReadyForQuery.
func (c *Conn) handleSimpleQuery(ctx context.Context, sql string) error {
	stmts := splitStatements(sql)
	if len(stmts) == 0 {
		if err := c.w.write(msgEmptyQueryResp, nil); err != nil {
			return err
		}
		return c.sendReadyForQuery()
	}
	for _, stmt := range stmts {
		if err := c.runOne(ctx, stmt); err != nil {
			if serr := c.sendError(err); serr != nil {
				return serr
			}
			break
		}
	}
	return c.sendReadyForQuery()
}

var copyFromRe = regexp.MustCompile(`(?is)^\s*COPY\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*(?:\(([^)]*)\))?\s+FROM\s+STDIN`)

func (c *Conn) runOne(ctx context.Context, sql string) error {
	if m := copyFromRe.FindStringSubmatch(sql); m != nil {
		return c.runCopyFrom(ctx, m[1], m[2])
	}

	res, err := c.engine.Execute(ctx, c.sess, sql)
	if err != nil {
		return err
	}
	if err := c.sendResult(res); err != nil {
		return err
	}
	return nil
}

func (c *Conn) sendResult(res engine.Result) error {
	if len(res.Columns) > 0 || res.Rows != nil {
		if err := c.writeRowDescription(res.Columns, res.Rows); err != nil {
			return err
		}
		for _, row := range res.Rows {
			if err := c.writeDataRow(row); err != nil {
				return err
			}
		}
	}
	return c.w.write(msgCommandComplete, (&msgBuilder{}).cstring(res.Tag).buf)
}

func (c *Conn) writeRowDescription(cols []string, rows []eval.Row) error {
	b := &msgBuilder{}
	b.int16(int16(len(cols)))
	for i, name := range cols {
		var oid int32 = oidUnknown
		if len(rows) > 0 && i < len(rows[0]) {
			oid = oidFor(rows[0][i].Kind)
		}
		b.cstring(name)
		b.int32(0)  // table OID
		b.int16(0)  // column attr number
		b.int32(oid)
		b.int16(-1) // type size: variable
		b.int32(-1) // type modifier
		b.int16(0)  // text format
	}
	return c.w.write(msgRowDescription, b.buf)
}

func (c *Conn) writeDataRow(row eval.Row) error {
	b := &msgBuilder{}
	b.int16(int16(len(row)))
	for _, v := range row {
		if v.IsNull() {
			b.bytesOrNull(nil)
			continue
		}
		b.bytesOrNull([]byte(value.ToText(v)))
	}
	return c.w.write(msgDataRow, b.buf)
}

func (c *Conn) sendError(err error) error {
	if werr := c.w.write(msgErrorResponse, errorFields(err)); werr != nil {
		return werr
	}
	return nil
}

func (c *Conn) sendReadyForQuery() error {
	status := byte(txnStatusIdle)
	switch c.sess.State() {
	case session.InTxn:
		status = txnStatusInTxn
	case session.InTxnError:
		status = txnStatusInTxnError
	}
	if err := c.w.write(msgReadyForQuery, []byte{status}); err != nil {
		return err
	}
	return c.w.flush()
}

// runCopyFrom drives the COPY (in) subprotocol: announce readiness with
// CopyInResponse, stream CopyData frames into a pipe dmlexec.CopyFrom
// reads from, and stop at CopyDone/CopyFail.
func (c *Conn) runCopyFrom(ctx context.Context, table, colList string) error {
	var cols []string
	if colList != "" {
		for _, s := range strings.Split(colList, ",") {
			cols = append(cols, strings.TrimSpace(s))
		}
	}

	b := (&msgBuilder{}).byte(0).int16(0)
	if err := c.w.write(msgCopyInResponse, b.buf); err != nil {
		return err
	}
	if err := c.w.flush(); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	type copyOutcome struct {
		tag string
		err error
	}
	done := make(chan copyOutcome, 1)
	go func() {
		res, err := c.engine.ExecuteCopyFrom(ctx, c.sess, table, cols, pr)
		pr.CloseWithError(err)
		if err != nil {
			done <- copyOutcome{err: err}
			return
		}
		done <- copyOutcome{tag: fmt.Sprintf("COPY %d", res)}
	}()

	for {
		msg, err := c.r.readMessage()
		if err != nil {
			pw.CloseWithError(err)
			<-done
			return err
		}
		switch msg.Type {
		case msgCopyData:
			if _, err := pw.Write(msg.Body); err != nil {
				// downstream already failed; drain until Done/Fail.
			}
		case msgCopyDone:
			pw.Close()
			outcome := <-done
			if outcome.err != nil {
				return c.sendError(outcome.err)
			}
			return c.w.write(msgCommandComplete, (&msgBuilder{}).cstring(outcome.tag).buf)
		case msgCopyFail:
			pw.CloseWithError(fmt.Errorf("pgwire: COPY failed: %s", cstring(msg.Body)))
			<-done
			return c.sendError(errs.New(errs.SyntaxError, "COPY failed: %s", cstring(msg.Body)))
		default:
			// Client interleaved an unrelated message; not valid mid-COPY,
			// but fail safe rather than deadlock the pipe.
			pw.CloseWithError(fmt.Errorf("pgwire: unexpected message %q during COPY", msg.Type))
			<-done
			return fmt.Errorf("pgwire: unexpected message %q during COPY", msg.Type)
		}
	}
}

// splitStatements splits a Simple Query string on top-level ';' the way
// libpq clients send multi-statement batches. It does not need to be a
// full SQL tokenizer: it only has to avoid splitting inside a quoted
// string literal.
func splitStatements(sql string) []string {
	var out []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if inQuote != 0 {
			cur.WriteByte(ch)
			if ch == inQuote {
				inQuote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			inQuote = ch
			cur.WriteByte(ch)
		case ';':
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// --- Extended Query protocol ---
// Bind parameters are substituted as text literals directly into the
// statement's SQL before handing it to the same engine.Execute path the
// Simple Query protocol uses; pgkv has no separate bound-parameter
// execution plan, so Parse only needs to remember query text and Bind
// only needs to remember parameter bytes.

func (c *Conn) handleParse(body []byte) error {
	r := &fieldReader{buf: body}
	name := r.cstring()
	query := r.cstring()
	numParams := r.int16()
	for i := int16(0); i < numParams; i++ {
		r.int32() // param type OID, unused: see substituteParams
	}
	if r.err != nil {
		return r.err
	}
	c.statements[name] = preparedStatement{Query: query}
	return c.w.write(msgParseComplete, nil)
}

func (c *Conn) handleBind(body []byte) error {
	r := &fieldReader{buf: body}
	portalName := r.cstring()
	stmtName := r.cstring()
	numFormats := r.int16()
	formats := make([]int16, numFormats)
	for i := range formats {
		formats[i] = r.int16()
	}
	numParams := r.int16()
	params := make([][]byte, numParams)
	for i := range params {
		params[i] = r.bytesOrNull()
	}
	numResultFormats := r.int16()
	for i := int16(0); i < numResultFormats; i++ {
		r.int16()
	}
	if r.err != nil {
		return r.err
	}
	if _, ok := c.statements[stmtName]; !ok {
		return c.sendError(errs.New(errs.SyntaxError, "unknown prepared statement %q", stmtName))
	}
	c.portals[portalName] = portal{stmtName: stmtName, params: params}
	return c.w.write(msgBindComplete, nil)
}

func (c *Conn) handleDescribe(ctx context.Context, body []byte) error {
	r := &fieldReader{buf: body}
	kind := r.byte_()
	name := r.cstring()
	if r.err != nil {
		return r.err
	}
	if kind == 'S' {
		if _, ok := c.statements[name]; !ok {
			return c.sendError(errs.New(errs.SyntaxError, "unknown prepared statement %q", name))
		}
		return c.w.write(msgParameterDesc, (&msgBuilder{}).int16(0).buf)
	}
	// Describing a portal: pgkv cannot know the result shape without
	// running the query, so it reports NoData; clients that need exact
	// column metadata ahead of Execute should rely on RowDescription sent
	// with the DataRow stream instead.
	return c.w.write(msgNoData, nil)
}

func (c *Conn) handleExecute(ctx context.Context, body []byte) error {
	r := &fieldReader{buf: body}
	portalName := r.cstring()
	r.int32() // max rows; pgkv always returns the full result set
	if r.err != nil {
		return r.err
	}
	p, ok := c.portals[portalName]
	if !ok {
		return c.sendError(errs.New(errs.SyntaxError, "unknown portal %q", portalName))
	}
	stmt, ok := c.statements[p.stmtName]
	if !ok {
		return c.sendError(errs.New(errs.SyntaxError, "unknown prepared statement %q", p.stmtName))
	}
	sql := substituteParams(stmt.Query, p.params)
	res, err := c.engine.Execute(ctx, c.sess, sql)
	if err != nil {
		return c.sendError(err)
	}
	return c.sendResult(res)
}

func (c *Conn) handleClose(body []byte) error {
	r := &fieldReader{buf: body}
	kind := r.byte_()
	name := r.cstring()
	if r.err != nil {
		return r.err
	}
	if kind == 'S' {
		delete(c.statements, name)
	} else {
		delete(c.portals, name)
	}
	return c.w.write(msgCloseComplete, nil)
}

var paramRefRe = regexp.MustCompile(`\$(\d+)`)

// substituteParams replaces each $N placeholder with a quoted text
// literal built from the Nth bound parameter, or NULL when that
// parameter's bytes are nil (the wire's -1 length convention).
func substituteParams(query string, params [][]byte) string {
	return paramRefRe.ReplaceAllStringFunc(query, func(ref string) string {
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 1 || n > len(params) {
			return ref
		}
		p := params[n-1]
		if p == nil {
			return "NULL"
		}
		return "'" + strings.ReplaceAll(string(p), "'", "''") + "'"
	})
}

// fieldReader reads the fixed-width/cstring fields extended-protocol
// messages are built from, latching the first error so callers can check
// it once at the end instead of after every field.
type fieldReader struct {
	buf []byte
	pos int
	err error
}

func (r *fieldReader) cstring() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.buf[r.pos:], 0)
	if i < 0 {
		r.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(r.buf[r.pos : r.pos+i])
	r.pos += i + 1
	return s
}

func (r *fieldReader) byte_() byte {
	if r.err != nil || r.pos >= len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *fieldReader) int16() int16 {
	if r.err != nil || r.pos+2 > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	v := int16(uint16(r.buf[r.pos])<<8 | uint16(r.buf[r.pos+1]))
	r.pos += 2
	return v
}

func (r *fieldReader) int32() int32 {
	if r.err != nil || r.pos+4 > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	v := int32(uint32(r.buf[r.pos])<<24 | uint32(r.buf[r.pos+1])<<16 | uint32(r.buf[r.pos+2])<<8 | uint32(r.buf[r.pos+3]))
	r.pos += 4
	return v
}

func (r *fieldReader) bytesOrNull() []byte {
	n := r.int32()
	if r.err != nil {
		return nil
	}
	if n < 0 {
		return nil
	}
	if r.pos+int(n) > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b
}
