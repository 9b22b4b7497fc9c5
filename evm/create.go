package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// memoryRLC returns the RLC of the values of the next n bus records, which
// a copy lookup is about to consume.
func (i *Instruction) memoryRLC(n uint64) field.FQ {
	var acc field.FQ
	start := i.curr.RWCounter + i.rwOffset
	for k := uint64(0); k < n; k++ {
		acc = acc.Mul(i.params.Randomness).Add(i.rwAt(start + k).Value.Lo)
	}
	return acc
}

// copyToBytecode hashes the memory range m of the current call as code and
// returns the hash. The copy circuit ties the memory bytes to the bytecode
// table entry of that hash.
func (i *Instruction) copyToBytecode(name string, m memoryRange) field.Word {
	n := i.u64(name+".size", m.length)
	hash := i.keccakLookup(i.memoryRLC(n), m.length)
	i.copyLookup(tables.CopyEvent{
		SrcID:      word(i.curr.CallID),
		SrcType:    tables.CopyMemory,
		DstID:      hash,
		DstType:    tables.CopyBytecode,
		SrcAddr:    i.u64(name+".offset", m.offset),
		SrcAddrEnd: i.u64(name+".end", m.end()),
		Length:     n,
	})
	return hash
}

// gadgetCreate handles CREATE and CREATE2. The attempt fails without a new
// frame on depth, balance or address collision; otherwise it enters the
// init code with the new account's nonce set and the value moved.
func gadgetCreate(i *Instruction) {
	op := i.opcodeLookup()
	o, ok := OperationOf(op)
	i.cs.AssertTrue("create.opcode", ok && o.State == StateCreate)
	isCreate2 := op == gethvm.CREATE2

	txID := i.callContextFQ(rw.CallTxID)
	depth := i.callContextFQ(rw.CallDepth)
	rev := i.frameReversionRead()
	i.cs.AssertZero("create.is_static", i.callContextFQ(rw.CallIsStatic))
	creator := i.callContextAddress(rw.CallCalleeAddress)

	value := i.stackPop()
	m := i.memoryRange(i.stackPop(), i.stackPop())
	var salt field.Word
	if isCreate2 {
		salt = i.stackPop()
	}
	pushed := i.stackPush()

	i.requireInRange(m)
	words, memCost := i.memoryExpansion(m)
	cost := fq(params.CreateGas).Add(memCost)
	if isCreate2 {
		cost = cost.Add(i.wordCost(m.length, params.Keccak256WordGas))
	}
	available := fq(i.curr.GasLeft).Sub(cost)
	i.rangeBytes("create.gas_available", available, 8)
	q, _ := i.divSmall(available, 64, 8)
	calleeGas := available.Sub(q)

	nonce := i.accountRead(creator, rw.AccountNonce)
	balance := i.accountRead(creator, rw.AccountBalance)
	depthFail := i.lessThan(fq(CallDepthLimit), depth, 8)
	insufficient := circuit.And(circuit.Not(depthFail), i.lessThanWord(balance, value))

	callID := fq(i.curr.CallID)
	if precheck := circuit.Or(depthFail, insufficient); precheck.IsOne() {
		want := StateErrorInsufficientBalance
		if depthFail.IsOne() {
			want = StateErrorDepth
		}
		i.cs.AssertTrue("create.state", i.curr.State == want)
		i.setLastCallee(callID, field.Zero(), field.Zero(), field.Zero())
		i.cs.AssertWordEqual("create.address", pushed, field.ZeroWord())
		i.constrain(i.stayTransition(cost.Neg(), words))
		return
	}

	next, prev := i.accountWrite(creator, rw.AccountNonce, rev)
	i.cs.AssertWordEqual("create.nonce", prev, nonce)
	i.cs.AssertEqual("create.nonce_inc", next.Lo, nonce.Lo.AddUint64(1))

	initHash := i.copyToBytecode("create.init", m)
	creatorAddr := addressWord(creator).Address()
	var preimage []byte
	if isCreate2 {
		preimage = crypto.Create2Preimage(creatorAddr, salt.Hash(), initHash.Hash())
	} else {
		preimage = crypto.CreatePreimage(creatorAddr, i.u64("create.nonce", nonce.Lo))
	}
	digest := i.keccakLookup(field.RLCAcc(preimage, i.params.Randomness), fq(uint64(len(preimage))))
	addr := i.addressFromWord(digest)

	i.accessListAccountWrite(txID, addr, rev)
	calleeNonce := i.accountRead(addr, rw.AccountNonce)
	calleeCode := i.accountRead(addr, rw.AccountCodeHash)
	collision := circuit.Or(circuit.Not(i.isZeroWord(calleeNonce)), circuit.Not(i.hasNoCode(calleeCode)))

	if collision.IsOne() {
		i.cs.AssertTrue("create.state", i.curr.State == StateErrorContractAddressCollision)
		i.setLastCallee(callID, field.Zero(), field.Zero(), field.Zero())
		i.cs.AssertWordEqual("create.address", pushed, field.ZeroWord())
		i.constrain(i.stayTransition(cost.Add(calleeGas).Neg(), words))
		return
	}
	i.cs.AssertTrue("create.state", i.curr.State == StateCreate)

	calleeRev, success := i.openFrame(calleeContext{
		txID:       txID,
		callee:     addr,
		isCreate:   true,
		isStatic:   field.Zero(),
		depth:      depth,
		caller:     addressWord(creator),
		value:      value,
		codeHash:   initHash,
		parentRev:  rev,
		parentCall: callID,
	})
	v, p := i.accountWrite(addr, rw.AccountNonce, calleeRev)
	i.cs.AssertWordEqual("create.callee_nonce_prev", p, calleeNonce)
	i.cs.AssertWordEqual("create.callee_nonce", v, word(1))
	i.transfer(creator, addr, value, calleeRev)
	i.saveCaller(available.Sub(calleeGas), words)

	i.cs.AssertWordEqual("create.address", pushed, addressWord(addr.Mul(success)))
	i.constrain(i.enterFrame(true, initHash, calleeGas, calleeRev))
}
