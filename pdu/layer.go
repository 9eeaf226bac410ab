// Package pdu implements the acceptor side of the DICOM Upper Layer
// Protocol: association negotiation, P-DATA-TF transfer and release.
package pdu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	derrors "github.com/clinimage/imagingd/errors"
	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/types"
)

// State tracks where an association is in its lifecycle. Transitions are
// strictly forward: Idle -> Negotiating -> Active -> Closing -> Closed,
// with aborts jumping straight to Closed.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	presentationResultAcceptance           byte = 0x00
	presentationResultRejectAbstractSyntax byte = 0x03
	presentationResultRejectTransferSyntax byte = 0x04

	defaultMaxPDULength = 16384
	defaultIdleTimeout  = 60 * time.Second

	// Upper bound on inbound PDU size, to keep a misbehaving peer from
	// making us allocate unbounded buffers.
	maxInboundPDULength = 64 * 1024 * 1024

	implementationClassUID = "1.2.826.0.1.3680043.10.1011.1"
	implementationVersion  = "IMAGINGD_1.0"
)

// AcceptorConfig describes what one listener accepts during association
// negotiation. Each listener (worklist, intake) provides its own.
type AcceptorConfig struct {
	AETitle                string
	SupportsAbstractSyntax func(uid string) bool
	TransferSyntaxes       []string
	MaxPDULength           uint32
	IdleTimeout            time.Duration
}

// Layer handles one association on one connection.
type Layer struct {
	conn         net.Conn
	cfg          AcceptorConfig
	assoc        *types.AssociationContext
	dimseHandler interfaces.DIMSEHandler
	state        State
	logger       zerolog.Logger
}

// NewLayer creates a PDU layer for an accepted connection.
func NewLayer(conn net.Conn, dimseHandler interfaces.DIMSEHandler, cfg AcceptorConfig, logger zerolog.Logger) *Layer {
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = defaultMaxPDULength
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Layer{
		conn:         conn,
		cfg:          cfg,
		dimseHandler: dimseHandler,
		state:        StateIdle,
		logger:       logger,
	}
}

// State returns the current association state.
func (p *Layer) State() State {
	return p.state
}

func (p *Layer) setState(next State) {
	if next == p.state {
		return
	}
	p.logger.Debug().
		Stringer("from", p.state).
		Stringer("to", next).
		Msg("association state transition")
	p.state = next
}

// Association returns the negotiated association context, or nil before
// negotiation completes.
func (p *Layer) Association() *types.AssociationContext {
	return p.assoc
}

// RemoteAddr returns the peer's network address.
func (p *Layer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// HandleConnection manages the complete association lifecycle on the
// connection, from negotiation through release or abort.
func (p *Layer) HandleConnection(ctx context.Context) error {
	defer func() {
		p.conn.Close()
		p.setState(StateClosed)
	}()

	p.logger.Info().
		Str("remote_addr", p.conn.RemoteAddr().String()).
		Msg("new association connection")

	if err := p.handleAssociationPhase(); err != nil {
		return fmt.Errorf("association failed: %w", err)
	}

	for p.state == StateActive {
		pdu, err := p.readPDU()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				p.logger.Warn().
					Str("remote_addr", p.conn.RemoteAddr().String()).
					Dur("idle_timeout", p.cfg.IdleTimeout).
					Msg("association idle timeout, aborting")
				p.sendAbort(0x02, 0x00)
				p.setState(StateClosed)
				return derrors.NewTimeoutError("association idle", p.cfg.IdleTimeout.String())
			}
			if err == io.EOF {
				p.logger.Info().
					Str("remote_addr", p.conn.RemoteAddr().String()).
					Msg("connection closed by peer")
				return nil
			}
			p.logger.Warn().
				Err(err).
				Str("remote_addr", p.conn.RemoteAddr().String()).
				Msg("error reading PDU")
			return err
		}

		if err := p.handlePDU(ctx, pdu); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error handling PDU: %w", err)
		}
	}

	return nil
}

// readPDU reads a complete PDU, applying the idle deadline.
func (p *Layer) readPDU() (*types.PDU, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout)); err != nil {
		return nil, err
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])
	if pduLength > maxInboundPDULength {
		return nil, derrors.NewPDUError(pduType, fmt.Sprintf("PDU length %d exceeds limit", pduLength))
	}

	pduData := make([]byte, pduLength)
	if _, err := io.ReadFull(p.conn, pduData); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &types.PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   pduData,
	}, nil
}

// handlePDU routes PDUs received while the association is active.
func (p *Layer) handlePDU(ctx context.Context, pdu *types.PDU) error {
	p.logger.Debug().
		Str("type", types.PDUTypeName(pdu.Type)).
		Uint32("length", pdu.Length).
		Msg("received PDU")

	switch pdu.Type {
	case types.TypePDataTF:
		return p.handlePDataTF(ctx, pdu)
	case types.TypeReleaseRQ:
		return p.handleReleaseRequest()
	case types.TypeAbort:
		p.logger.Info().Msg("received A-ABORT")
		p.setState(StateClosed)
		return io.EOF
	default:
		p.logger.Warn().
			Str("type", fmt.Sprintf("0x%02x", pdu.Type)).
			Msg("unhandled PDU type, aborting association")
		p.sendAbort(0x02, 0x02)
		p.setState(StateClosed)
		return io.EOF
	}
}

// handleAssociationPhase reads and answers the A-ASSOCIATE-RQ.
func (p *Layer) handleAssociationPhase() error {
	pdu, err := p.readPDU()
	if err != nil {
		return fmt.Errorf("failed to read association request: %w", err)
	}

	if pdu.Type != types.TypeAssociateRQ {
		p.sendAbort(0x02, 0x02)
		return derrors.NewPDUError(pdu.Type, "expected A-ASSOCIATE-RQ")
	}

	p.setState(StateNegotiating)
	return p.handleAssociateRequest(pdu)
}

// handleAssociateRequest negotiates the request and answers with either
// an A-ASSOCIATE-AC or an A-ASSOCIATE-RJ.
func (p *Layer) handleAssociateRequest(pdu *types.PDU) error {
	p.assoc = &types.AssociationContext{
		CalledAETitle:    p.cfg.AETitle,
		CallingAETitle:   "UNKNOWN",
		MaxPDULength:     defaultMaxPDULength,
		PresentationCtxs: make(map[byte]*types.PresentationContext),
	}

	if err := p.parseAssociationRequest(pdu); err != nil {
		p.reject(derrors.RejectReasonNoReasonGiven)
		return derrors.NewAssociationError(derrors.RejectSourceServiceProvider,
			derrors.RejectReasonNoReasonGiven, err.Error())
	}

	if p.cfg.AETitle != "" && p.assoc.CalledAETitle != p.cfg.AETitle {
		p.logger.Warn().
			Str("called_ae", p.assoc.CalledAETitle).
			Str("expected_ae", p.cfg.AETitle).
			Msg("association addressed to unknown AE title")
		p.reject(derrors.RejectReasonCalledAETitleNotRecognized)
		return derrors.NewAssociationError(derrors.RejectSourceServiceProvider,
			derrors.RejectReasonCalledAETitleNotRecognized, p.assoc.CalledAETitle)
	}

	accepted := 0
	for _, ctx := range p.assoc.PresentationCtxs {
		if ctx.Result == presentationResultAcceptance {
			accepted++
		}
	}
	if accepted == 0 {
		p.logger.Warn().
			Str("calling_ae", p.assoc.CallingAETitle).
			Msg("no acceptable presentation context, rejecting association")
		p.reject(derrors.RejectReasonApplicationContextNotSupported)
		return derrors.ErrNoPresentationCtx
	}

	response := p.createAssociateAccept()
	if _, err := p.conn.Write(response); err != nil {
		return fmt.Errorf("failed to send A-ASSOCIATE-AC: %w", err)
	}

	p.setState(StateActive)
	p.logger.Info().
		Str("calling_ae", p.assoc.CallingAETitle).
		Str("called_ae", p.assoc.CalledAETitle).
		Int("accepted_contexts", accepted).
		Uint32("max_pdu_length", p.assoc.MaxPDULength).
		Msg("association established")
	return nil
}

// reject sends an A-ASSOCIATE-RJ with the given reason and closes out
// the negotiation.
func (p *Layer) reject(reason derrors.AssociationRejectReason) {
	// Result 1 = rejected-permanent, source 1 = DICOM UL service-user
	rj := []byte{types.TypeAssociateRJ, 0x00, 0x00, 0x00, 0x00, 0x04,
		0x00, 0x01, 0x01, byte(reason)}
	if _, err := p.conn.Write(rj); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send A-ASSOCIATE-RJ")
	}
	p.setState(StateClosed)
}

// sendAbort sends an A-ABORT PDU.
func (p *Layer) sendAbort(source, reason byte) {
	abort := []byte{types.TypeAbort, 0x00, 0x00, 0x00, 0x00, 0x04,
		0x00, 0x00, source, reason}
	if _, err := p.conn.Write(abort); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send A-ABORT")
	}
}

// handlePDataTF walks every PDV in the PDU and forwards each fragment to
// the DIMSE layer.
func (p *Layer) handlePDataTF(ctx context.Context, pdu *types.PDU) error {
	payload := pdu.Data
	offset := 0

	for offset < len(payload) {
		if offset+6 > len(payload) {
			return derrors.NewPDUError(types.TypePDataTF, "truncated PDV")
		}

		pdvLength := binary.BigEndian.Uint32(payload[offset : offset+4])
		end := offset + 4 + int(pdvLength)
		if pdvLength < 2 || end > len(payload) {
			return derrors.NewPDUError(types.TypePDataTF, "PDV length exceeds PDU payload")
		}

		presContextID := payload[offset+4]
		msgCtrlHeader := payload[offset+5]
		dimseData := payload[offset+6 : end]

		if err := p.dimseHandler.HandleDIMSEMessage(ctx, presContextID, msgCtrlHeader, dimseData, p); err != nil {
			return err
		}

		offset = end
	}

	return nil
}

// handleReleaseRequest answers A-RELEASE-RQ with A-RELEASE-RP.
func (p *Layer) handleReleaseRequest() error {
	p.setState(StateClosing)

	response := []byte{types.TypeReleaseRP, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}
	if _, err := p.conn.Write(response); err != nil {
		return fmt.Errorf("failed to send A-RELEASE-RP: %w", err)
	}

	p.logger.Info().
		Str("remote_addr", p.conn.RemoteAddr().String()).
		Msg("association released")
	p.setState(StateClosed)
	return io.EOF
}

// SendDIMSEResponse sends a DIMSE command via P-DATA-TF.
func (p *Layer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	return p.SendDIMSEResponseWithDataset(presContextID, commandData, nil)
}

// SendDIMSEResponseWithDataset sends a DIMSE command and optional
// dataset, fragmenting by the peer's announced maximum PDU length.
func (p *Layer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	if err := p.sendPDVs(presContextID, commandData, true); err != nil {
		return fmt.Errorf("failed to send command PDU: %w", err)
	}
	if len(datasetData) > 0 {
		if err := p.sendPDVs(presContextID, datasetData, false); err != nil {
			return fmt.Errorf("failed to send dataset PDU: %w", err)
		}
	}
	return nil
}

func (p *Layer) sendPDVs(presContextID byte, data []byte, isCommand bool) error {
	maxPDU := p.assoc.MaxPDULength
	if maxPDU == 0 {
		maxPDU = defaultMaxPDULength
	}
	// PDU header (6) + PDV length (4) + context ID and control header (2)
	maxChunk := int(maxPDU) - 12
	if maxChunk <= 0 {
		maxChunk = defaultMaxPDULength - 12
	}

	offset := 0
	for {
		chunk := len(data) - offset
		last := true
		if chunk > maxChunk {
			chunk = maxChunk
			last = false
		}

		controlHeader := byte(0)
		if isCommand {
			controlHeader |= 0x01
		}
		if last {
			controlHeader |= 0x02
		}

		pdv := make([]byte, 0, chunk+12)
		pdvLength := make([]byte, 4)
		binary.BigEndian.PutUint32(pdvLength, uint32(chunk+2))
		pdv = append(pdv, pdvLength...)
		pdv = append(pdv, presContextID, controlHeader)
		pdv = append(pdv, data[offset:offset+chunk]...)

		pduHeader := make([]byte, 6)
		pduHeader[0] = types.TypePDataTF
		binary.BigEndian.PutUint32(pduHeader[2:6], uint32(len(pdv)))

		if _, err := p.conn.Write(append(pduHeader, pdv...)); err != nil {
			return err
		}

		offset += chunk
		if offset >= len(data) {
			return nil
		}
	}
}

// GetTransferSyntax returns the negotiated transfer syntax for the given
// presentation context.
func (p *Layer) GetTransferSyntax(presContextID byte) (string, error) {
	if p.assoc == nil {
		return "", fmt.Errorf("association context not initialized")
	}

	ctx, ok := p.assoc.PresentationCtxs[presContextID]
	if !ok {
		return "", fmt.Errorf("presentation context %d not found", presContextID)
	}

	if ctx.TransferSyntax == "" {
		return "", fmt.Errorf("no transfer syntax negotiated for presentation context %d", presContextID)
	}

	return ctx.TransferSyntax, nil
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

// negotiatePresentationContext parses one proposed presentation context
// and decides its result against the acceptor configuration.
func (p *Layer) negotiatePresentationContext(data []byte) (*types.PresentationContext, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("presentation context too short: %d", len(data))
	}

	ctxID := data[0]
	subOffset := 4 // Skip reserved bytes
	var abstractSyntax string
	var transferSyntaxes []string

	for subOffset+4 <= len(data) {
		subItemType := data[subOffset]
		subItemLength := binary.BigEndian.Uint16(data[subOffset+2 : subOffset+4])
		valueStart := subOffset + 4
		valueEnd := valueStart + int(subItemLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("presentation context %d sub-item exceeds length", ctxID)
		}

		value := data[valueStart:valueEnd]
		switch subItemType {
		case 0x30: // Abstract Syntax
			abstractSyntax = normalizeUID(value)
		case 0x40: // Transfer Syntax
			transferSyntaxes = append(transferSyntaxes, normalizeUID(value))
		}

		subOffset = valueEnd
	}

	if abstractSyntax == "" {
		return nil, fmt.Errorf("presentation context %d missing abstract syntax", ctxID)
	}

	result := presentationResultRejectAbstractSyntax
	selectedTransfer := ""

	if p.cfg.SupportsAbstractSyntax != nil && p.cfg.SupportsAbstractSyntax(abstractSyntax) {
		result = presentationResultRejectTransferSyntax
		// Our preference order decides, not the order the peer proposed.
		for _, supported := range p.cfg.TransferSyntaxes {
			for _, proposed := range transferSyntaxes {
				if proposed == supported {
					selectedTransfer = supported
					result = presentationResultAcceptance
					break
				}
			}
			if result == presentationResultAcceptance {
				break
			}
		}
	}

	p.logger.Debug().
		Uint8("context_id", ctxID).
		Str("abstract_syntax", abstractSyntax).
		Strs("proposed_transfer_syntaxes", transferSyntaxes).
		Str("selected_transfer_syntax", selectedTransfer).
		Uint8("result", result).
		Msg("presentation context negotiated")

	return &types.PresentationContext{
		ID:             ctxID,
		Result:         result,
		AbstractSyntax: abstractSyntax,
		TransferSyntax: selectedTransfer,
	}, nil
}

func parseUserInformation(data []byte) (uint32, error) {
	offset := 0
	var maxPDULength uint32

	for offset+4 <= len(data) {
		subItemType := data[offset]
		subItemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(subItemLength)
		if valueEnd > len(data) {
			return 0, fmt.Errorf("user information sub-item exceeds length")
		}

		if subItemType == 0x51 && subItemLength == 4 {
			maxPDULength = binary.BigEndian.Uint32(data[valueStart:valueEnd])
		}

		offset = valueEnd
	}

	return maxPDULength, nil
}

// parseAssociationRequest extracts AE titles, presentation contexts and
// user information from an A-ASSOCIATE-RQ.
func (p *Layer) parseAssociationRequest(pdu *types.PDU) error {
	if len(pdu.Data) < 68 {
		return fmt.Errorf("association request too short")
	}

	data := pdu.Data

	p.assoc.CalledAETitle = normalizeAETitle(data[4:20])
	p.assoc.CallingAETitle = normalizeAETitle(data[20:36])

	offset := 68
	for offset < len(data) {
		if offset+4 > len(data) {
			break
		}

		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return fmt.Errorf("association item exceeds PDU length")
		}
		itemData := data[valueStart:valueEnd]

		switch itemType {
		case 0x10: // Application Context
		case 0x20: // Presentation Context
			ctx, err := p.negotiatePresentationContext(itemData)
			if err != nil {
				p.logger.Warn().Err(err).Msg("failed to parse presentation context")
			} else {
				p.assoc.PresentationCtxs[ctx.ID] = ctx
			}
		case 0x50: // User Information
			if maxPDULength, err := parseUserInformation(itemData); err != nil {
				p.logger.Warn().Err(err).Msg("failed to parse user information")
			} else if maxPDULength > 0 {
				p.assoc.MaxPDULength = maxPDULength
			}
		}

		offset = valueEnd
	}

	if len(p.assoc.PresentationCtxs) == 0 {
		return fmt.Errorf("no presentation contexts in association request")
	}

	return nil
}

func normalizeAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// createAssociateAccept builds the A-ASSOCIATE-AC PDU.
func (p *Layer) createAssociateAccept() []byte {
	// Fixed fields (68 bytes)
	fixedFields := make([]byte, 68)
	binary.BigEndian.PutUint16(fixedFields[0:2], 0x0001)

	calledAE := p.assoc.CalledAETitle
	if len(calledAE) > 16 {
		calledAE = calledAE[:16]
	}
	callingAE := p.assoc.CallingAETitle
	if len(callingAE) > 16 {
		callingAE = callingAE[:16]
	}
	copy(fixedFields[4:20], fmt.Sprintf("%-16s", calledAE))
	copy(fixedFields[20:36], fmt.Sprintf("%-16s", callingAE))

	appContextUID := types.ApplicationContextUID
	appContextItem := []byte{0x10, 0x00}
	appContextLen := make([]byte, 2)
	binary.BigEndian.PutUint16(appContextLen, uint16(len(appContextUID)))
	appContextItem = append(appContextItem, appContextLen...)
	appContextItem = append(appContextItem, []byte(appContextUID)...)

	var contextIDs []byte
	for id := range p.assoc.PresentationCtxs {
		contextIDs = append(contextIDs, id)
	}
	for i := 0; i < len(contextIDs); i++ {
		for j := i + 1; j < len(contextIDs); j++ {
			if contextIDs[i] > contextIDs[j] {
				contextIDs[i], contextIDs[j] = contextIDs[j], contextIDs[i]
			}
		}
	}

	var allPresContextItems []byte
	for _, id := range contextIDs {
		ctx := p.assoc.PresentationCtxs[id]

		// Some widely deployed implementations reject an AC that echoes
		// rejected contexts, despite PS3.8 9.3.3.3. Only accepted
		// contexts are included.
		if ctx.Result != presentationResultAcceptance {
			continue
		}

		transferSyntaxItem := []byte{0x40, 0x00}
		transferSyntaxLen := make([]byte, 2)
		binary.BigEndian.PutUint16(transferSyntaxLen, uint16(len(ctx.TransferSyntax)))
		transferSyntaxItem = append(transferSyntaxItem, transferSyntaxLen...)
		transferSyntaxItem = append(transferSyntaxItem, []byte(ctx.TransferSyntax)...)

		presContextItem := []byte{0x21, 0x00}
		presContextLen := make([]byte, 2)
		binary.BigEndian.PutUint16(presContextLen, uint16(4+len(transferSyntaxItem)))
		presContextItem = append(presContextItem, presContextLen...)
		presContextItem = append(presContextItem, ctx.ID, ctx.Result, 0x00, 0x00)
		presContextItem = append(presContextItem, transferSyntaxItem...)

		allPresContextItems = append(allPresContextItems, presContextItem...)
	}

	maxPDUItem := []byte{0x51, 0x00, 0x00, 0x04}
	maxPDUValue := make([]byte, 4)
	binary.BigEndian.PutUint32(maxPDUValue, p.cfg.MaxPDULength)
	maxPDUItem = append(maxPDUItem, maxPDUValue...)

	implClassItem := []byte{0x52, 0x00}
	implClassLen := make([]byte, 2)
	binary.BigEndian.PutUint16(implClassLen, uint16(len(implementationClassUID)))
	implClassItem = append(implClassItem, implClassLen...)
	implClassItem = append(implClassItem, []byte(implementationClassUID)...)

	implVersionItem := []byte{0x55, 0x00}
	implVersionLen := make([]byte, 2)
	binary.BigEndian.PutUint16(implVersionLen, uint16(len(implementationVersion)))
	implVersionItem = append(implVersionItem, implVersionLen...)
	implVersionItem = append(implVersionItem, []byte(implementationVersion)...)

	userInfoData := append(maxPDUItem, implClassItem...)
	userInfoData = append(userInfoData, implVersionItem...)
	userInfoItem := []byte{0x50, 0x00}
	userInfoLen := make([]byte, 2)
	binary.BigEndian.PutUint16(userInfoLen, uint16(len(userInfoData)))
	userInfoItem = append(userInfoItem, userInfoLen...)
	userInfoItem = append(userInfoItem, userInfoData...)

	variableItems := append(appContextItem, allPresContextItems...)
	variableItems = append(variableItems, userInfoItem...)
	pduData := append(fixedFields, variableItems...)

	pduHeader := []byte{types.TypeAssociateAC, 0x00}
	pduLength := make([]byte, 4)
	binary.BigEndian.PutUint32(pduLength, uint32(len(pduData)))
	pduHeader = append(pduHeader, pduLength...)

	return append(pduHeader, pduData...)
}
