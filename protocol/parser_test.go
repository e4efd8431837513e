package protocol_test

import (
	"bufio"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tsq/protocol"
)

var _ = Describe("Parsing", func() {
	Describe("ScanLines()", func() {
		It("splits the stream on LF-CR", func() {
			stream := "version=3.13.7 build=1655727713\n\rerror id=0 msg=ok\n\r"
			scanner := bufio.NewScanner(strings.NewReader(stream))
			scanner.Split(protocol.ScanLines)

			var lines []string
			for scanner.Scan() {
				lines = append(lines, scanner.Text())
			}
			Expect(scanner.Err()).To(Succeed())
			Expect(lines).To(Equal([]string{
				"version=3.13.7 build=1655727713",
				"error id=0 msg=ok",
			}))
		})

		It("surfaces a trailing fragment without terminator", func() {
			scanner := bufio.NewScanner(strings.NewReader("error id=0"))
			scanner.Split(protocol.ScanLines)
			Expect(scanner.Scan()).To(BeTrue())
			Expect(scanner.Text()).To(Equal("error id=0"))
			Expect(scanner.Scan()).To(BeFalse())
		})

		It("does not split on a bare LF", func() {
			scanner := bufio.NewScanner(strings.NewReader("msg=a\nb\n\r"))
			scanner.Split(protocol.ScanLines)
			Expect(scanner.Scan()).To(BeTrue())
			Expect(scanner.Text()).To(Equal("msg=a\nb"))
		})
	})

	Describe("IsStatusLine()", func() {
		It("recognises status lines", func() {
			Expect(protocol.IsStatusLine("error id=0 msg=ok")).To(BeTrue())
			Expect(protocol.IsStatusLine("error")).To(BeTrue())
		})

		It("does not match keys that merely start with error", func() {
			Expect(protocol.IsStatusLine("error_code=5 msg=nope")).To(BeFalse())
			Expect(protocol.IsStatusLine("virtualserver_status=online")).To(BeFalse())
		})
	})

	Describe("IsEventLine()", func() {
		It("recognises notifications", func() {
			Expect(protocol.IsEventLine("notifytextmessage targetmode=1 msg=hi invokerid=3")).To(BeTrue())
			Expect(protocol.IsEventLine("notifycliententerview cfid=0 ctid=1")).To(BeTrue())
		})

		It("ignores plain data lines", func() {
			Expect(protocol.IsEventLine("clid=1 cid=1")).To(BeFalse())
			Expect(protocol.IsEventLine("error id=0 msg=ok")).To(BeFalse())
		})
	})

	Describe("ParseStatus()", func() {
		It("parses the ok status", func() {
			status, err := protocol.ParseStatus("error id=0 msg=ok")
			Expect(err).To(Succeed())
			Expect(status.Code).To(Equal(0))
			Expect(status.Message).To(Equal("ok"))
			Expect(status.IsOK()).To(BeTrue())
			Expect(status.Err()).To(Succeed())
		})

		It("unescapes the message", func() {
			status, err := protocol.ParseStatus(`error id=520 msg=invalid\sloginname\sor\spassword`)
			Expect(err).To(Succeed())
			Expect(status.Code).To(Equal(520))
			Expect(status.Message).To(Equal("invalid loginname or password"))
			Expect(status.IsOK()).To(BeFalse())
		})

		It("keeps unknown fields in Extra", func() {
			status, err := protocol.ParseStatus(`error id=2568 msg=insufficient\sclient\spermissions failed_permid=4`)
			Expect(err).To(Succeed())
			Expect(status.Extra.Get("failed_permid")).To(Equal("4"))
		})

		It("surfaces the code and message through Err", func() {
			status, err := protocol.ParseStatus(`error id=512 msg=invalid\sclientID`)
			Expect(err).To(Succeed())

			qerr := status.Err()
			Expect(qerr).To(HaveOccurred())
			Expect(qerr.Error()).To(ContainSubstring("512"))
			Expect(qerr.Error()).To(ContainSubstring("invalid clientID"))
		})

		It("rejects a status without a numeric id", func() {
			_, err := protocol.ParseStatus("error msg=ok")
			Expect(err).To(MatchError(protocol.ErrMalformedStatus))

			_, err = protocol.ParseStatus("error id=zero msg=ok")
			Expect(err).To(MatchError(protocol.ErrMalformedStatus))
		})
	})

	Describe("ParseResponse()", func() {
		It("parses a status-only response", func() {
			resp, err := protocol.ParseResponse([]string{"error id=0 msg=ok"})
			Expect(err).To(Succeed())
			Expect(resp.Records).To(BeEmpty())
			Expect(resp.First()).To(BeNil())
			Expect(resp.Status.IsOK()).To(BeTrue())
		})

		It("parses a single record", func() {
			resp, err := protocol.ParseResponse([]string{
				"virtualserver_status=online virtualserver_id=1",
				"error id=0 msg=ok",
			})
			Expect(err).To(Succeed())
			Expect(resp.Records).To(HaveLen(1))
			Expect(resp.First().Get("virtualserver_status")).To(Equal("online"))

			id, err := resp.First().Int("virtualserver_id")
			Expect(err).To(Succeed())
			Expect(id).To(Equal(1))
		})

		It("splits pipe-separated records", func() {
			resp, err := protocol.ParseResponse([]string{
				`clid=1 client_nickname=serveradmin|clid=2 client_nickname=Sheila\sSue`,
				"error id=0 msg=ok",
			})
			Expect(err).To(Succeed())
			Expect(resp.Records).To(HaveLen(2))
			Expect(resp.Records[0].Get("clid")).To(Equal("1"))
			Expect(resp.Records[1].Get("client_nickname")).To(Equal("Sheila Sue"))
		})

		It("treats a bare key as a present empty value", func() {
			resp, err := protocol.ParseResponse([]string{
				"cid=2 pid=0 channel_password",
				"error id=0 msg=ok",
			})
			Expect(err).To(Succeed())

			value, ok := resp.First().Lookup("channel_password")
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal(""))
			Expect(resp.First().Has("channel_password")).To(BeTrue())
			Expect(resp.First().Has("channel_topic")).To(BeFalse())
		})

		It("keeps trailing = runes in values", func() {
			resp, err := protocol.ParseResponse([]string{
				"client_unique_identifier=P5H2hrN6+gpQI4n\\/dXp3p17vtY0=",
				"error id=0 msg=ok",
			})
			Expect(err).To(Succeed())
			Expect(resp.First().Get("client_unique_identifier")).To(Equal("P5H2hrN6+gpQI4n/dXp3p17vtY0="))
		})

		It("requires the status line", func() {
			_, err := protocol.ParseResponse([]string{"clid=1"})
			Expect(err).To(MatchError(protocol.ErrMissingStatusLine))

			_, err = protocol.ParseResponse(nil)
			Expect(err).To(MatchError(protocol.ErrMissingStatusLine))
		})
	})

	Describe("ParseEvent()", func() {
		It("parses the name and payload", func() {
			event, err := protocol.ParseEvent(`notifytextmessage targetmode=3 msg=Hello\sWorld invokerid=5`)
			Expect(err).To(Succeed())
			Expect(event.Name).To(Equal("notifytextmessage"))
			Expect(event.Data.Get("msg")).To(Equal("Hello World"))
			Expect(event.Data.Get("invokerid")).To(Equal("5"))
		})

		It("parses a payload-free event", func() {
			event, err := protocol.ParseEvent("notifyserverstopped")
			Expect(err).To(Succeed())
			Expect(event.Name).To(Equal("notifyserverstopped"))
			Expect(event.Data).To(BeEmpty())
		})

		It("rejects an empty line", func() {
			_, err := protocol.ParseEvent("   ")
			Expect(err).To(MatchError(protocol.ErrEmptyEventLine))
		})
	})
})
