package node

import (
	"errors"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/net"
)

var errWrongDst = errors.New("request addressed to another name")

// handleClientCmd stores client data. Only elders hold data; the reply
// carries the data error, if any, under the request id.
func (c *Core) handleClientCmd(msg *net.WireMsg) error {
	if !c.elder {
		return nil
	}
	var cmd net.ClientCmd
	if err := msg.DecodePayload(&cmd); err != nil {
		return err
	}
	if cmd.Cmd.DstName() != msg.Dst.Name {
		return cm.NewKindError(cm.ProtocolViolation, errWrongDst)
	}

	kind := cmd.Cmd.Kind.String()
	resp := net.CmdResponse{CorrelationID: msg.MsgID}
	if err := c.data.HandleCmd(msg.Auth.PublicKey, cmd.Cmd); err != nil {
		derr, ok := data.AsError(err)
		if !ok {
			c.metrics.ClientRequests.WithLabelValues(kind, "failed").Inc()
			c.logger.WithError(err).WithField("cmd", kind).Error("Storing client data")
			return cm.NewKindError(cm.Io, err)
		}
		resp.Err = derr
	}

	c.logger.WithFields(logrus.Fields{
		"cmd":   kind,
		"from":  msg.Src,
		"error": resp.Err,
	}).Debug("Client command")
	c.metrics.ClientRequests.WithLabelValues(kind, outcome(resp.Err)).Inc()
	c.updateGauges()

	c.send(net.CmdResponseMsg, c.replyDst(msg.Src), resp, msg.Src)
	return nil
}

func (c *Core) handleClientQuery(msg *net.WireMsg) error {
	if !c.elder {
		return nil
	}
	var q net.ClientQuery
	if err := msg.DecodePayload(&q); err != nil {
		return err
	}
	if q.Query.DstName() != msg.Dst.Name {
		return cm.NewKindError(cm.ProtocolViolation, errWrongDst)
	}

	kind := q.Query.Kind.String()
	res, err := c.data.HandleQuery(q.Query)
	if err != nil {
		c.metrics.ClientRequests.WithLabelValues(kind, "failed").Inc()
		c.logger.WithError(err).WithField("query", kind).Error("Reading client data")
		return cm.NewKindError(cm.Io, err)
	}
	c.metrics.ClientRequests.WithLabelValues(kind, outcome(res.Err)).Inc()

	c.send(net.QueryResponseMsg, c.replyDst(msg.Src),
		net.QueryResponse{CorrelationID: msg.MsgID, Result: res}, msg.Src)
	return nil
}

func outcome(err *data.Error) string {
	if err == nil {
		return "ok"
	}
	return err.Kind.String()
}
