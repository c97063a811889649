package submit

import (
	"bytes"
	"context"

	dErrors "fiskal/pkg/domain-errors"
)

const echoRequest = soapOpen +
	`<EchoZahtjev xmlns="http://www.apis-it.hr/fin/2012/types/f73">ping</EchoZahtjev>` +
	soapClose

// Ping exercises the authority's echo endpoint. A failure means the service
// is unreachable or not answering the protocol; the reconciler uses it to
// skip a batch instead of burning attempt budgets.
func (c *Client) Ping(ctx context.Context) error {
	status, payload, err := c.sender.Send(ctx, []byte(echoRequest))
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return dErrors.Newf(dErrors.CodeTransport, "echo returned HTTP %d", status)
	}
	if !bytes.Contains(payload, []byte("EchoOdgovor")) {
		return dErrors.New(dErrors.CodeTransport, "echo response malformed")
	}
	return nil
}
