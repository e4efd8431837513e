package client_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/tsq/client"
	"github.com/luma/tsq/protocol"
)

var _ = Describe("Conn", func() {
	Describe("Connect()", func() {
		It("consumes the greeting banner before the first query", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("whoami")
				s.writeLine("client_id=1 client_nickname=serveradmin")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.State()).To(Equal(client.StateConnected))

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			who, err := conn.Whoami(ctx)
			Expect(err).To(Succeed())
			Expect(who.Get("client_nickname")).To(Equal("serveradmin"))
		})

		It("consumes a longer banner when configured for one", func() {
			ms := startMockServer(func(s *serverConn) {
				s.writeLine("selected schandlerid=1")
				s.writeLine("another banner line")
				s.expectLine("whoami")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms, client.WithGreetingLines(4))
			defer conn.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			resp, err := conn.Exec(ctx, protocol.NewQuery("whoami"))
			Expect(err).To(Succeed())
			Expect(resp.Status.IsOK()).To(BeTrue())
		})

		It("rejects a second Connect", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			ctx, cancel := shortCtx(time.Second)
			defer cancel()

			Expect(conn.Connect(ctx, ms.Addr())).To(MatchError(client.ErrAlreadyConnected))
		})

		It("remembers the dialed host for file transfers", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.RemoteHost()).To(Equal("127.0.0.1"))
		})
	})

	Describe("Send()", func() {
		It("requires a connection", func() {
			conn := client.New(zap.NewNop())
			Expect(conn.Send(protocol.NewQuery("whoami"))).To(MatchError(client.ErrNotConnected))
		})

		It("refuses a query that does not compile", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.Send(protocol.NewQuery(""))).To(MatchError(protocol.ErrEmptyVerb))
		})
	})

	Describe("Recv()", func() {
		It("correlates responses to queries in FIFO order", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("whoami")
				s.expectLine("version")
				s.writeLine("client_id=1")
				s.writeOK()
				s.writeLine("version=3.13.7")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.Send(protocol.NewQuery("whoami"))).To(Succeed())
			Expect(conn.Send(protocol.NewQuery("version"))).To(Succeed())

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			first, err := conn.Recv(ctx)
			Expect(err).To(Succeed())
			Expect(first.First().Has("client_id")).To(BeTrue())

			second, err := conn.Recv(ctx)
			Expect(err).To(Succeed())
			Expect(second.First().Has("version")).To(BeTrue())
		})

		It("keeps correlation when events interleave with responses", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("whoami")
				s.writeLine("notifytextmessage targetmode=1 msg=first")
				s.writeLine("client_id=1")
				s.writeOK()
				s.writeLine("notifytextmessage targetmode=1 msg=second")
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			resp, err := conn.Exec(ctx, protocol.NewQuery("whoami"))
			Expect(err).To(Succeed())
			Expect(resp.First().Has("client_id")).To(BeTrue())

			event, err := conn.WaitForEvent(ctx)
			Expect(err).To(Succeed())
			Expect(event.Data.Get("msg")).To(Equal("first"))

			event, err = conn.WaitForEvent(ctx)
			Expect(err).To(Succeed())
			Expect(event.Data.Get("msg")).To(Equal("second"))
		})

		It("leaves the response claimable after a timeout", func() {
			release := make(chan struct{})

			ms := startMockServer(func(s *serverConn) {
				s.expectLine("version")
				<-release
				s.writeLine("version=3.13.7")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.Send(protocol.NewQuery("version"))).To(Succeed())

			ctx, cancel := shortCtx(50 * time.Millisecond)
			defer cancel()

			_, err := conn.Recv(ctx)
			Expect(err).To(MatchError(client.ErrTimeout))

			close(release)

			retryCtx, retryCancel := shortCtx(5 * time.Second)
			defer retryCancel()

			resp, err := conn.Recv(retryCtx)
			Expect(err).To(Succeed())
			Expect(resp.First().Get("version")).To(Equal("3.13.7"))
		})

		It("returns the context error on cancellation", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("version")
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.Send(protocol.NewQuery("version"))).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := conn.Recv(ctx)
			Expect(err).To(MatchError(context.Canceled))
		})

		It("reports a lost connection", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("version")
				// Hang up instead of answering.
			})

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.Send(protocol.NewQuery("version"))).To(Succeed())
			ms.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			_, err := conn.Recv(ctx)
			Expect(err).To(MatchError(client.ErrConnectionLost))
		})
	})

	Describe("SendIgnoreResponse()", func() {
		It("discards the reply but keeps the stream in sync", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("logout")
				s.expectLine("version")
				s.writeOK()
				s.writeLine("version=3.13.7")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.SendIgnoreResponse(protocol.NewQuery("logout"))).To(Succeed())

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			resp, err := conn.Exec(ctx, protocol.NewQuery("version"))
			Expect(err).To(Succeed())
			Expect(resp.First().Get("version")).To(Equal("3.13.7"))
		})
	})

	Describe("SendKeepalive()", func() {
		It("writes a bare line the server never answers", func() {
			ms := startMockServer(func(s *serverConn) {
				line, ok := s.readLine()
				Expect(ok).To(BeTrue())
				Expect(line).To(Equal(""))

				s.expectLine("version")
				s.writeLine("version=3.13.7")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			Expect(conn.SendKeepalive()).To(Succeed())

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			resp, err := conn.Exec(ctx, protocol.NewQuery("version"))
			Expect(err).To(Succeed())
			Expect(resp.First().Get("version")).To(Equal("3.13.7"))
		})

		It("is sent automatically when the connection idles", func() {
			gotKeepalive := make(chan struct{})

			ms := startMockServer(func(s *serverConn) {
				for {
					line, ok := s.readLine()
					if !ok {
						return
					}
					if line == "" {
						close(gotKeepalive)
						return
					}
				}
			})
			defer ms.Close()

			conn := dialMock(ms, client.WithKeepaliveInterval(50*time.Millisecond))
			defer conn.Close()

			Eventually(gotKeepalive, "2s").Should(BeClosed())
		})
	})

	Describe("Close()", func() {
		It("releases blocked waiters with ErrClosed", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)

			waitErr := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				ctx, cancel := shortCtx(5 * time.Second)
				defer cancel()

				_, err := conn.WaitForEvent(ctx)
				waitErr <- err
			}()

			// Give the waiter time to block.
			time.Sleep(20 * time.Millisecond)

			Expect(conn.Close()).To(Succeed())
			Eventually(waitErr).Should(Receive(MatchError(client.ErrClosed)))
			Expect(conn.State()).To(Equal(client.StateClosing))
		})

		It("is idempotent", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)
			Expect(conn.Close()).To(Succeed())
			Expect(conn.Close()).To(Succeed())
		})

		It("keeps concurrent sends well-typed while closing", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)

				for i := 0; i < 500; i++ {
					if err := conn.Send(protocol.NewQuery("whoami")); err != nil {
						Expect(err).To(MatchError(client.ErrClosed))
						return
					}
				}
			}()

			time.Sleep(time.Millisecond)
			Expect(conn.Close()).To(Succeed())
			Eventually(done).Should(BeClosed())
		})

		It("fails further sends with the terminal error", func() {
			ms := startMockServer(func(s *serverConn) { s.holdOpen() })
			defer ms.Close()

			conn := dialMock(ms)
			Expect(conn.Close()).To(Succeed())

			Expect(conn.Send(protocol.NewQuery("whoami"))).To(MatchError(client.ErrClosed))
		})
	})

	Describe("typed commands", func() {
		It("logs in and selects a virtual server", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("login client_login_name=serveradmin client_login_password=secret")
				s.writeOK()
				s.expectLine("use sid=1")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			Expect(conn.Login(ctx, "serveradmin", "secret")).To(Succeed())
			Expect(conn.Use(ctx, 1)).To(Succeed())
		})

		It("folds a nonzero status into an error", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("login client_login_name=serveradmin client_login_password=wrong")
				s.writeLine(`error id=520 msg=invalid\sloginname\sor\spassword`)
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			err := conn.Login(ctx, "serveradmin", "wrong")
			Expect(err).To(HaveOccurred())

			var qerr *protocol.QueryError
			Expect(errors.As(err, &qerr)).To(BeTrue())
			Expect(qerr.Code).To(Equal(520))
			Expect(qerr.Message).To(Equal("invalid loginname or password"))
		})

		It("pipelines a multi-client kick", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine(`clientkick reasonid=5 reasonmsg=bye clid=1|reasonid=5 reasonmsg=bye clid=2`)
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			Expect(conn.ClientKick(ctx, 5, "bye", 1, 2)).To(Succeed())
		})

		It("lists clients with option flags", func() {
			ms := startMockServer(func(s *serverConn) {
				s.expectLine("clientlist -uid")
				s.writeLine("clid=1 client_unique_identifier=abc=|clid=2 client_unique_identifier=def=")
				s.writeOK()
			})
			defer ms.Close()

			conn := dialMock(ms)
			defer conn.Close()

			ctx, cancel := shortCtx(5 * time.Second)
			defer cancel()

			clients, err := conn.ClientList(ctx, "uid")
			Expect(err).To(Succeed())
			Expect(clients).To(HaveLen(2))
			Expect(clients[1].Get("client_unique_identifier")).To(Equal("def="))
		})
	})
})
