package tracing

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/sim/hooking"
	"github.com/sarchlab/ssdsim/sim/naming"
)

type fakeDomain struct {
	naming.NamedBase
	hooking.HookableBase
}

var _ = Describe("Recorder", func() {
	var (
		mockCtrl *gomock.Controller
		db       *MockDataRecorder
		r        *Recorder
		domain   *fakeDomain
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		db = NewMockDataRecorder(mockCtrl)
		r = NewRecorder(db, logging.Nop())
		domain = &fakeDomain{NamedBase: naming.MakeNamedBase("SSD.NAND")}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should create the table once and insert every access", func() {
		db.EXPECT().
			CreateTable(PageAccessTable, gomock.AssignableToTypeOf(pageAccessRow{})).
			Return(nil)
		db.EXPECT().
			InsertData(PageAccessTable, gomock.Any()).
			DoAndReturn(func(_ string, entry any) error {
				row := entry.(pageAccessRow)
				Expect(row.Domain).To(Equal("SSD.NAND"))
				Expect(row.Op).To(Equal("write"))
				Expect(row.EndUs).To(Equal(int64(982)))
				return nil
			}).
			Times(2)

		for i := 0; i < 2; i++ {
			r.Func(hooking.HookCtx{
				Domain: domain,
				Pos:    hooking.HookPosPageAccess,
				Item:   hooking.PageAccess{Op: "write", PPN: uint32(i), End: 982},
			})
		}
	})

	It("should record GC runs with their phase", func() {
		db.EXPECT().CreateTable(GCRunTable, gomock.Any()).Return(nil)
		db.EXPECT().
			InsertData(GCRunTable, gcRunRow{
				Domain:     "SSD.NAND",
				Phase:      "HookPosGCEnd",
				Flash:      1,
				ValidPages: 2,
				Moved:      2,
			}).
			Return(nil)

		r.Func(hooking.HookCtx{
			Domain: domain,
			Pos:    hooking.HookPosGCEnd,
			Item:   hooking.GCRun{Flash: 1, ValidPages: 2, Moved: 2},
		})
	})

	It("should ignore other items", func() {
		r.Func(hooking.HookCtx{Domain: domain, Item: 42})
	})

	It("should stop recording after an error", func() {
		db.EXPECT().
			CreateTable(RequestDoneTable, gomock.Any()).
			Return(errors.New("disk full"))

		for i := 0; i < 3; i++ {
			r.Func(hooking.HookCtx{
				Domain: domain,
				Pos:    hooking.HookPosRequestDone,
				Item:   hooking.RequestDone{Seq: uint64(i + 1), Pages: 1},
			})
		}
	})

	It("should flush the recorder", func() {
		db.EXPECT().Flush().Return(nil)

		Expect(r.Flush()).To(Succeed())
	})
})
