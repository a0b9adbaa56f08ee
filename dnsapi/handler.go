package dnsapi

import (
	"context"
	"net"
	"strings"

	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Catalog 健康实例来源（governance.Discovery 实现）
type Catalog interface {
	Discover(ctx context.Context, serviceName, strategy string, tags ...string) (*governance.ServiceInstance, error)
	DiscoverAll(ctx context.Context, serviceName string, tags ...string) []governance.ServiceInstance
}

// query 解析后的查询名
//
//	<service>.<domain>               服务的全部健康实例
//	_<service>._tcp.<domain>         同上（RFC 2782 形式）
//	_<service>._<tag>.<domain>       带标签过滤
//	<instance>.<service>.<domain>    单个实例（SRV 的 target）
type query struct {
	service  string
	tag      string
	instance string
}

func parseQuery(name, domain string) (query, bool) {
	if name == domain {
		return query{}, false
	}
	rel := strings.TrimSuffix(name, "."+domain)
	labels := dns.SplitDomainName(rel)

	switch len(labels) {
	case 1:
		return query{service: labels[0]}, true
	case 2:
		if strings.HasPrefix(labels[0], "_") && strings.HasPrefix(labels[1], "_") {
			q := query{service: labels[0][1:]}
			if proto := labels[1][1:]; proto != "tcp" && proto != "udp" {
				q.tag = proto
			}
			return q, q.service != ""
		}
		return query{instance: labels[0], service: labels[1]}, true
	}
	return query{}, false
}

// ServeDNS 实现 dns.Handler
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
	} else {
		q := r.Question[0]
		m.Rcode = s.answer(context.Background(), q, m)
		s.logger.Debug("DNS query",
			zap.String("name", q.Name),
			zap.String("type", dns.TypeToString[q.Qtype]),
			zap.String("rcode", dns.RcodeToString[m.Rcode]),
			zap.Int("answers", len(m.Answer)))
	}

	if err := w.WriteMsg(m); err != nil {
		s.logger.Warn("write DNS response failed", zap.Error(err))
	}
}

// answer 填充应答并返回 rcode
func (s *Server) answer(ctx context.Context, q dns.Question, m *dns.Msg) int {
	name := dns.CanonicalName(q.Name)
	if !dns.IsSubDomain(s.cfg.Domain, name) {
		return dns.RcodeRefused
	}
	if name == s.cfg.Domain {
		return dns.RcodeSuccess
	}
	parsed, ok := parseQuery(name, s.cfg.Domain)
	if !ok {
		return dns.RcodeNameError
	}

	instances := s.lookup(ctx, parsed)
	if len(instances) == 0 {
		return dns.RcodeNameError
	}

	for _, inst := range instances {
		switch q.Qtype {
		case dns.TypeA, dns.TypeAAAA:
			if rr := s.addressRecord(name, inst, q.Qtype); rr != nil {
				m.Answer = append(m.Answer, rr)
			}
		case dns.TypeSRV:
			target := s.target(inst)
			m.Answer = append(m.Answer, &dns.SRV{
				Hdr:      s.header(name, dns.TypeSRV),
				Priority: 1,
				Weight:   uint16(min(inst.Weight, 65535)),
				Port:     uint16(inst.Port),
				Target:   target,
			})
			for _, qt := range []uint16{dns.TypeA, dns.TypeAAAA} {
				if rr := s.addressRecord(target, inst, qt); rr != nil {
					m.Extra = append(m.Extra, rr)
				}
			}
		}
	}
	// 其他类型：名字存在但没有该类型记录（NODATA）
	return dns.RcodeSuccess
}

// lookup 首选实例（按默认负载均衡策略）排在第一位，最多 MaxAnswers 个
func (s *Server) lookup(ctx context.Context, q query) []governance.ServiceInstance {
	var tags []string
	if q.tag != "" {
		tags = []string{q.tag}
	}
	all := s.catalog.DiscoverAll(ctx, q.service, tags...)

	if q.instance != "" {
		for _, inst := range all {
			if strings.EqualFold(inst.InstanceID, q.instance) {
				return []governance.ServiceInstance{inst}
			}
		}
		return nil
	}
	if len(all) == 0 {
		return nil
	}

	if preferred, err := s.catalog.Discover(ctx, q.service, "", tags...); err == nil && preferred != nil {
		for i, inst := range all {
			if inst.InstanceID == preferred.InstanceID {
				all[0], all[i] = all[i], all[0]
				break
			}
		}
	}
	if len(all) > s.cfg.MaxAnswers {
		all = all[:s.cfg.MaxAnswers]
	}
	return all
}

func (s *Server) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: s.cfg.TTL}
}

// addressRecord IPv4 主机只有 A 记录，IPv6 只有 AAAA；主机名不产生地址记录
func (s *Server) addressRecord(name string, inst governance.ServiceInstance, qtype uint16) dns.RR {
	ip := net.ParseIP(inst.Host)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		if qtype != dns.TypeA {
			return nil
		}
		return &dns.A{Hdr: s.header(name, dns.TypeA), A: v4}
	}
	if qtype != dns.TypeAAAA {
		return nil
	}
	return &dns.AAAA{Hdr: s.header(name, dns.TypeAAAA), AAAA: ip}
}

// target SRV 目标：IP 主机用实例名，主机名直接使用
func (s *Server) target(inst governance.ServiceInstance) string {
	if net.ParseIP(inst.Host) == nil {
		return dns.Fqdn(inst.Host)
	}
	return dns.CanonicalName(inst.InstanceID + "." + inst.ServiceName + "." + s.cfg.Domain)
}
